package dispatch

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/storage"
)

type recordingDispatcher struct {
	got []Message
	err error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func TestRouter(t *testing.T) {
	webhook := &recordingDispatcher{}
	email := &recordingDispatcher{err: errors.New("smtp down")}
	r := NewRouter().Handle(storage.KindWebhook, webhook).Handle(storage.KindEmail, email)

	require.NoError(t, r.Dispatch(context.Background(), Message{Kind: storage.KindWebhook}))
	assert.Len(t, webhook.got, 1)

	assert.EqualError(t, r.Dispatch(context.Background(), Message{Kind: storage.KindEmail}), "smtp down")
	assert.Len(t, email.got, 1)

	err := NewRouter().Dispatch(context.Background(), Message{Kind: "pigeon", Destination: "roof"})
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.False(t, de.Retryable())
}

type tempErr struct{ temp bool }

func (e tempErr) Error() string { return "smtp 4xx" }
func (e tempErr) IsTemp() bool  { return e.temp }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestDispatchErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *DispatchError
		want bool
	}{
		{"not found", &DispatchError{StatusCode: 404}, false},
		{"unauthorized", &DispatchError{StatusCode: 401}, false},
		{"bad request", &DispatchError{StatusCode: 400}, false},
		{"throttled", &DispatchError{StatusCode: 429}, true},
		{"server error", &DispatchError{StatusCode: 502}, true},
		{"network", &DispatchError{Err: timeoutErr{}}, true},
		{"deadline", &DispatchError{Err: context.DeadlineExceeded}, true},
		{"smtp temporary", &DispatchError{Err: tempErr{temp: true}}, true},
		{"smtp permanent", &DispatchError{Err: tempErr{temp: false}}, false},
		{"other", &DispatchError{Err: errors.New("mailbox unavailable")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "Saturday, February 28 2026", FormatDate(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Monday, March 2 2026", FormatDate(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://discord.com/api/webhooks/123/***", Redact("https://discord.com/api/webhooks/123/s3cr3t-token"))
	assert.Equal(t, "reader@example.org", Redact("reader@example.org"))
	assert.Equal(t, "http://127.0.0.1:9999/hook", Redact("http://127.0.0.1:9999/hook"))
}

func TestDispatchErrorMessage(t *testing.T) {
	err := &DispatchError{Kind: storage.KindWebhook, Destination: "https://discord.com/api/webhooks/1/***", StatusCode: 404, Body: `{"message": "Unknown Webhook"}`}
	assert.Equal(t, `webhook dispatch to https://discord.com/api/webhooks/1/*** failed: HTTP 404: {"message": "Unknown Webhook"}`, err.Error())
}
