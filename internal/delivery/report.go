package delivery

import (
	"time"
)

// Mode selects how a run treats papers that could not be resolved.
type Mode int

const (
	// Strict sends nothing to a subscription unless every paper resolved.
	Strict Mode = iota
	// Tolerant sends the resolved subset with an apology note.
	Tolerant
)

func (m Mode) String() string {
	if m == Tolerant {
		return "tolerant"
	}
	return "strict"
}

type Status string

const (
	StatusDelivered Status = "delivered"
	StatusPartial   Status = "partial"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Outcome is the result of one subscription in one run.
type Outcome struct {
	SubscriptionID uint64
	Label          string
	Destination    string // redacted
	Status         Status
	Missing        []string
	ImagePath      string
	Err            error
	Deactivated    bool
}

// Report summarizes a delivery run.
type Report struct {
	Date     time.Time
	Mode     Mode
	Started  time.Time
	Took     time.Duration
	Outcomes []Outcome
}

// Count returns how many outcomes have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Sent counts full and partial deliveries.
func (r *Report) Sent() int {
	return r.Count(StatusDelivered) + r.Count(StatusPartial)
}

// Deactivated lists the subscriptions switched off during the run.
func (r *Report) Deactivated() []uint64 {
	var ids []uint64
	for _, o := range r.Outcomes {
		if o.Deactivated {
			ids = append(ids, o.SubscriptionID)
		}
	}
	return ids
}

// Outcome returns the outcome for a subscription.
func (r *Report) Outcome(id uint64) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.SubscriptionID == id {
			return o, true
		}
	}
	return Outcome{}, false
}
