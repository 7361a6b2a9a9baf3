package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/storage"
)

type capturedPost struct {
	payload  webhookPayload
	filename string
	fileType string
	file     []byte
}

func writeImage(t *testing.T) (string, []byte) {
	t.Helper()
	data := []byte("\xff\xd8\xff\xe0 fake jpeg")
	path := filepath.Join(t.TempDir(), "2026-02-28-sub1.jpg")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func webhookServer(t *testing.T, status int, captured chan<- capturedPost) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var c capturedPost
		if err := json.Unmarshal([]byte(r.FormValue("payload_json")), &c.payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		c.filename = hdr.Filename
		c.fileType = hdr.Header.Get("Content-Type")
		c.file, _ = io.ReadAll(f)
		captured <- c

		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"message": "Unknown Webhook"}`))
		}
	}))
}

func TestWebhookDispatch(t *testing.T) {
	captured := make(chan capturedPost, 1)
	srv := webhookServer(t, http.StatusOK, captured)
	defer srv.Close()

	path, data := writeImage(t)
	w := NewWebhook(5*time.Second, "CoverCompare")

	err := w.Dispatch(context.Background(), Message{
		Kind:        storage.KindWebhook,
		Destination: srv.URL + "/api/webhooks/1/token",
		ImagePath:   path,
		Date:        time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		Note:        "Missing today: Daily News\n",
	})
	require.NoError(t, err)

	c := <-captured
	assert.Equal(t, "Missing today: Daily News\nSaturday, February 28 2026", c.payload.Content)
	assert.Equal(t, "CoverCompare", c.payload.Username)
	require.Len(t, c.payload.Embeds, 1)
	assert.Equal(t, "attachment://image.jpg", c.payload.Embeds[0].Image.URL)
	assert.Equal(t, "image.jpg", c.filename)
	assert.Equal(t, "image/jpeg", c.fileType)
	assert.Equal(t, data, c.file)
}

func TestWebhookDispatchUsesLabelAsUsername(t *testing.T) {
	captured := make(chan capturedPost, 1)
	srv := webhookServer(t, http.StatusNoContent, captured)
	defer srv.Close()

	path, _ := writeImage(t)
	err := NewWebhook(5*time.Second, "CoverCompare").Dispatch(context.Background(), Message{
		Destination: srv.URL,
		ImagePath:   path,
		Date:        time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		Label:       "NYC Tabloids",
	})
	require.NoError(t, err)
	assert.Equal(t, "NYC Tabloids", (<-captured).payload.Username)
}

func TestWebhookDispatchFailures(t *testing.T) {
	path, _ := writeImage(t)
	date := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	t.Run("non-2xx", func(t *testing.T) {
		for _, tt := range []struct {
			status    int
			retryable bool
		}{
			{http.StatusNotFound, false},
			{http.StatusTooManyRequests, true},
			{http.StatusBadGateway, true},
		} {
			captured := make(chan capturedPost, 1)
			srv := webhookServer(t, tt.status, captured)

			err := NewWebhook(5*time.Second, "").Dispatch(context.Background(), Message{
				Destination: srv.URL + "/api/webhooks/1/secret",
				ImagePath:   path,
				Date:        date,
			})
			srv.Close()

			var de *DispatchError
			require.True(t, errors.As(err, &de), "status %d", tt.status)
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, tt.retryable, de.Retryable(), "status %d", tt.status)
			assert.NotContains(t, err.Error(), "secret")
			assert.Contains(t, err.Error(), "Unknown Webhook")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		err := NewWebhook(time.Second, "").Dispatch(context.Background(), Message{Destination: url, ImagePath: path, Date: date})
		var de *DispatchError
		require.True(t, errors.As(err, &de))
		assert.Zero(t, de.StatusCode)
		assert.True(t, de.Retryable())
	})

	t.Run("missing composite", func(t *testing.T) {
		err := NewWebhook(time.Second, "").Dispatch(context.Background(), Message{
			Destination: "http://127.0.0.1:1/hook",
			ImagePath:   filepath.Join(t.TempDir(), "missing.jpg"),
			Date:        date,
		})
		require.Error(t, err)
		var de *DispatchError
		assert.False(t, errors.As(err, &de))
	})
}
