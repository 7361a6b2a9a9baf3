package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/pders01/covers/internal/storage"
)

const attachmentName = "image.jpg"

type webhookPayload struct {
	Content  string         `json:"content"`
	Username string         `json:"username,omitempty"`
	Embeds   []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Image webhookImage `json:"image"`
}

type webhookImage struct {
	URL string `json:"url"`
}

// Webhook posts to Discord-compatible webhooks: a multipart form carrying a
// payload_json part and the image as an attachment referenced by the embed.
type Webhook struct {
	client   *http.Client
	username string
}

func NewWebhook(timeout time.Duration, username string) *Webhook {
	return &Webhook{
		client: &http.Client{
			Timeout: timeout,
		},
		username: username,
	}
}

func (w *Webhook) Dispatch(ctx context.Context, msg Message) error {
	fail := func(status int, body string, err error) error {
		return &DispatchError{
			Kind:        storage.KindWebhook,
			Destination: Redact(msg.Destination),
			StatusCode:  status,
			Body:        body,
			Err:         err,
		}
	}

	image, err := os.ReadFile(msg.ImagePath)
	if err != nil {
		return fmt.Errorf("reading composite: %w", err)
	}

	body, contentType, err := w.encode(msg, image)
	if err != nil {
		return fmt.Errorf("encoding webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Destination, body)
	if err != nil {
		return fail(0, "", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(resp.StatusCode, strings.TrimSpace(string(snippet)), nil)
	}
	return nil
}

func (w *Webhook) encode(msg Message, image []byte) (*bytes.Buffer, string, error) {
	username := msg.Label
	if username == "" {
		username = w.username
	}
	payload, err := json.Marshal(webhookPayload{
		Content:  msg.Note + FormatDate(msg.Date),
		Username: username,
		Embeds:   []webhookEmbed{{Image: webhookImage{URL: "attachment://" + attachmentName}}},
	})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, attachmentName))
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
