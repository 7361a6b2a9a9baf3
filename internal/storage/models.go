package storage

import (
	"sort"
	"time"
)

// DestinationKind is how a subscription is delivered.
type DestinationKind string

const (
	KindWebhook DestinationKind = "webhook"
	KindEmail   DestinationKind = "email"
)

// AutoDeactivateThreshold is the number of consecutive failed deliveries
// after which a subscription is deactivated.
const AutoDeactivateThreshold = 7

type Subscription struct {
	ID                uint64          `json:"id"`
	Destination       string          `json:"destination"`
	Kind              DestinationKind `json:"kind"`
	Papers            []string        `json:"papers"`
	Label             string          `json:"label,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	LastPostedAt      *time.Time      `json:"last_posted_at,omitempty"`
	DeliveredDays     []string        `json:"delivered_days,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	Active            bool            `json:"active"`
}

// deliveredDaysKept bounds DeliveredDays, the most recent delivered
// calendar days as YYYY-MM-DD, oldest first.
const deliveredDaysKept = 31

// DeliveredOn reports whether the subscription was delivered for the
// calendar day of date, evaluated in date's location.
func (s *Subscription) DeliveredOn(date time.Time) bool {
	day := date.Format(time.DateOnly)
	for _, d := range s.DeliveredDays {
		if d == day {
			return true
		}
	}
	if s.LastPostedAt == nil {
		return false
	}
	posted := s.LastPostedAt.In(date.Location())
	return posted.Format(time.DateOnly) == day
}

// markDelivered records day and keeps LastPostedAt at the newest delivery.
func (s *Subscription) markDelivered(at time.Time) {
	day := at.Format(time.DateOnly)
	seen := false
	for _, d := range s.DeliveredDays {
		if d == day {
			seen = true
			break
		}
	}
	if !seen {
		s.DeliveredDays = append(s.DeliveredDays, day)
		sort.Strings(s.DeliveredDays)
		if n := len(s.DeliveredDays); n > deliveredDaysKept {
			s.DeliveredDays = s.DeliveredDays[n-deliveredDaysKept:]
		}
	}

	posted := at.UTC()
	if s.LastPostedAt == nil || posted.After(*s.LastPostedAt) {
		s.LastPostedAt = &posted
	}
}

// Attempt is the audit record of one delivery attempt.
type Attempt struct {
	ID             uint64    `json:"id"`
	SubscriptionID uint64    `json:"subscription_id"`
	Date           string    `json:"date"`
	Status         string    `json:"status"`
	Missing        []string  `json:"missing,omitempty"`
	Error          string    `json:"error,omitempty"`
	Deactivated    bool      `json:"deactivated,omitempty"`
	At             time.Time `json:"at"`
}
