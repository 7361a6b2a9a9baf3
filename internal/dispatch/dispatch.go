// Package dispatch sends a composite image to one destination over a
// webhook or email.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pders01/covers/internal/storage"
)

// Message is one send of one composite to one destination.
type Message struct {
	Kind        storage.DestinationKind
	Destination string
	ImagePath   string
	Date        time.Time
	// Note is prepended to the message text, e.g. an apology for missing
	// papers or a flashback marker.
	Note  string
	Label string
	// SubscriptionID drives the unsubscribe link; zero omits it.
	SubscriptionID uint64
}

// Dispatcher delivers a message. Failures are *DispatchError.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DispatchError reports a failed send.
type DispatchError struct {
	Kind        storage.DestinationKind
	Destination string
	StatusCode  int
	Body        string
	Err         error
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s dispatch to %s failed", e.Kind, e.Destination)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is likely transient: throttling,
// server errors, timeouts and temporary SMTP rejections. Permanent
// rejections such as a deleted webhook return false.
func (e *DispatchError) Retryable() bool {
	if e.StatusCode != 0 {
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
	if e.Err == nil {
		return false
	}
	var temp interface{ IsTemp() bool }
	if errors.As(e.Err, &temp) {
		return temp.IsTemp()
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsRetryable reports whether err is a retryable *DispatchError.
func IsRetryable(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Retryable()
}

// Router picks a dispatcher by message kind.
type Router struct {
	routes map[storage.DestinationKind]Dispatcher
}

func NewRouter() *Router {
	return &Router{routes: make(map[storage.DestinationKind]Dispatcher)}
}

// Handle registers d for kind, replacing any previous dispatcher.
func (r *Router) Handle(kind storage.DestinationKind, d Dispatcher) *Router {
	r.routes[kind] = d
	return r
}

func (r *Router) Dispatch(ctx context.Context, msg Message) error {
	d, ok := r.routes[msg.Kind]
	if !ok {
		return &DispatchError{
			Kind:        msg.Kind,
			Destination: Redact(msg.Destination),
			Err:         fmt.Errorf("no dispatcher configured for %q", msg.Kind),
		}
	}
	return d.Dispatch(ctx, msg)
}

// FormatDate renders a date as "Friday, February 28 2026".
func FormatDate(d time.Time) string {
	return d.Format("Monday, January 2 2006")
}

// Redact hides the secret part of webhook URLs for logs and stored errors.
func Redact(destination string) string {
	u, err := url.Parse(destination)
	if err != nil || u.Host == "" {
		return destination
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 1 {
		segments[len(segments)-1] = "***"
	}
	return u.Scheme + "://" + u.Host + "/" + strings.Join(segments, "/")
}
