package resolver

import (
	"fmt"
	"strings"
	"time"
)

// AllSourcesFailedError is returned when every descriptor of a paper failed.
// It unwraps to each per-source error.
type AllSourcesFailedError struct {
	Key    string
	Errors []error
}

func (e *AllSourcesFailedError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("all sources failed for %s: %s", e.Key, strings.Join(msgs, "; "))
}

func (e *AllSourcesFailedError) Unwrap() []error { return e.Errors }

// StaleEditionError records a source that answered with an edition other
// than the requested one.
type StaleEditionError struct {
	Source    string
	Requested time.Time
	Edition   time.Time
}

func (e *StaleEditionError) Error() string {
	return fmt.Sprintf("%s: stale edition %s for %s", e.Source,
		e.Edition.Format(time.DateOnly), e.Requested.Format(time.DateOnly))
}
