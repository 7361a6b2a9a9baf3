package delivery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pders01/covers/internal/resolver"
)

// ErrInactive is returned when a preview targets a deactivated subscription.
var ErrInactive = errors.New("subscription is inactive")

// ErrForbidden is returned when a caller's destination does not own the
// subscription it names.
var ErrForbidden = errors.New("destination does not match subscription")

// MissingPapersError reports papers that could not be resolved for a send.
type MissingPapersError struct {
	Failures []resolver.Failure
}

func (e *MissingPapersError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Key, f.Err)
	}
	return "missing papers: " + strings.Join(parts, "; ")
}

func (e *MissingPapersError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Keys lists the missing paper keys in request order.
func (e *MissingPapersError) Keys() []string {
	keys := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		keys[i] = f.Key
	}
	return keys
}

// apology is the note prepended to a partial delivery.
func apology(names []string) string {
	return fmt.Sprintf("Sorry, we couldn't get today's front page for %s. ", joinNames(names))
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
