package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/pders01/covers/internal/storage"
)

const coverContentID = "cover_image"

// SMTPSettings configures the email dispatcher.
type SMTPSettings struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	FromName  string
	ReplyTo   string
	// BaseURL prefixes unsubscribe links.
	BaseURL string
}

var htmlBody = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:20px;background:#111;font-family:sans-serif;color:#eee;">
  {{if .Note}}<p style="margin:0 0 16px;font-size:13px;color:#e07;">{{.Note}}</p>
  {{end}}<p style="margin:0 0 16px;font-size:14px;color:#aaa;">{{.Date}}</p>
  <img src="cid:{{.ContentID}}" style="max-width:100%;display:block;border:0;" alt="Today's newspaper covers">
  {{if .Unsubscribe}}<p style="margin:24px 0 0;font-size:12px;color:#666;">
    <a href="{{.Unsubscribe}}" style="color:#888;">Unsubscribe</a>
  </p>
  {{end}}</body>
</html>
`))

type emailView struct {
	Note        string
	Date        string
	ContentID   string
	Unsubscribe string
}

// Email sends the composite inline in an HTML message over SMTP.
type Email struct {
	settings SMTPSettings
	send     func(ctx context.Context, m *mail.Msg) error
}

func NewEmail(settings SMTPSettings) *Email {
	e := &Email{settings: settings}
	e.send = e.dialAndSend
	return e
}

func (e *Email) Dispatch(ctx context.Context, msg Message) error {
	m, err := e.compose(msg)
	if err != nil {
		return err
	}
	if err := e.send(ctx, m); err != nil {
		return &DispatchError{Kind: storage.KindEmail, Destination: msg.Destination, Err: err}
	}
	return nil
}

func (e *Email) brand() string {
	if e.settings.FromName != "" {
		return e.settings.FromName
	}
	return "CoverCompare"
}

// Subject is "{brand} — {label} · {date}", or without the label part.
func (e *Email) Subject(msg Message) string {
	date := FormatDate(msg.Date)
	if msg.Label != "" {
		return fmt.Sprintf("%s — %s · %s", e.brand(), msg.Label, date)
	}
	return fmt.Sprintf("%s — %s", e.brand(), date)
}

func (e *Email) unsubscribeURL(msg Message) string {
	if msg.SubscriptionID == 0 || e.settings.BaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/unsubscribe?id=%d", strings.TrimRight(e.settings.BaseURL, "/"), msg.SubscriptionID)
}

// Bodies renders the plain-text and HTML bodies of msg.
func (e *Email) Bodies(msg Message) (string, string, error) {
	date := FormatDate(msg.Date)
	unsubscribe := e.unsubscribeURL(msg)

	var plain strings.Builder
	plain.WriteString(msg.Note)
	fmt.Fprintf(&plain, "Today's newspaper covers: %s\n", date)
	if unsubscribe != "" {
		fmt.Fprintf(&plain, "\nUnsubscribe: %s", unsubscribe)
	}

	var html bytes.Buffer
	err := htmlBody.Execute(&html, emailView{
		Note:        strings.TrimSpace(msg.Note),
		Date:        date,
		ContentID:   coverContentID,
		Unsubscribe: unsubscribe,
	})
	if err != nil {
		return "", "", fmt.Errorf("rendering email: %w", err)
	}
	return plain.String(), html.String(), nil
}

func (e *Email) compose(msg Message) (*mail.Msg, error) {
	plain, html, err := e.Bodies(msg)
	if err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.FromFormat(e.brand(), e.settings.FromEmail); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.Destination); err != nil {
		return nil, &DispatchError{Kind: storage.KindEmail, Destination: msg.Destination, Err: err}
	}
	if e.settings.ReplyTo != "" {
		if err := m.ReplyTo(e.settings.ReplyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to: %w", err)
		}
	}
	m.Subject(e.Subject(msg))
	m.SetBodyString(mail.TypeTextPlain, plain)
	m.AddAlternativeString(mail.TypeTextHTML, html)
	m.EmbedFile(msg.ImagePath, mail.WithFileName("covers.jpg"), mail.WithFileContentID(coverContentID))
	return m, nil
}

func (e *Email) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.settings.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if e.settings.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.settings.User),
			mail.WithPassword(e.settings.Password),
		)
	}

	client, err := mail.NewClient(e.settings.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, m)
}
