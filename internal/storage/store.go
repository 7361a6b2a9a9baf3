package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	subscriptionsBucket = []byte("subscriptions")
	attemptsBucket      = []byte("attempts")
)

// ErrNotFound is returned for unknown subscription IDs.
var ErrNotFound = errors.New("subscription not found")

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{subscriptionsBucket, attemptsBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func getSubscription(b *bolt.Bucket, id uint64) (*Subscription, error) {
	data := b.Get(itob(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decoding subscription %d: %w", id, err)
	}
	return &sub, nil
}

func putSubscription(b *bolt.Bucket, sub *Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return b.Put(itob(sub.ID), data)
}

// update loads subscription id, applies fn and writes it back in one
// transaction.
func (s *Store) update(id uint64, fn func(*Subscription)) (*Subscription, error) {
	var sub *Subscription
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)
		var err error
		if sub, err = getSubscription(b, id); err != nil {
			return err
		}
		fn(sub)
		return putSubscription(b, sub)
	})
	return sub, err
}

// CreateSubscription stores a new active subscription and assigns its ID.
func (s *Store) CreateSubscription(destination string, kind DestinationKind, papers []string, label string) (*Subscription, error) {
	sub := &Subscription{
		Destination: destination,
		Kind:        kind,
		Papers:      append([]string(nil), papers...),
		Label:       label,
		CreatedAt:   s.now().UTC(),
		Active:      true,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		sub.ID = id
		return putSubscription(b, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) GetSubscription(id uint64) (*Subscription, error) {
	var sub *Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		sub, err = getSubscription(tx.Bucket(subscriptionsBucket), id)
		return err
	})
	return sub, err
}

func (s *Store) list(filter func(*Subscription) bool) ([]*Subscription, error) {
	var subs []*Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).ForEach(func(_ []byte, v []byte) error {
			var sub Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if filter == nil || filter(&sub) {
				subs = append(subs, &sub)
			}
			return nil
		})
	})
	// Keys are big-endian IDs, so ForEach already yields ID order.
	return subs, err
}

// ListSubscriptions returns every subscription, active or not, by ID.
func (s *Store) ListSubscriptions() ([]*Subscription, error) {
	return s.list(nil)
}

// GetActiveSubscriptions returns only subscriptions eligible for delivery.
func (s *Store) GetActiveSubscriptions() ([]*Subscription, error) {
	return s.list(func(sub *Subscription) bool { return sub.Active })
}

// RecordSuccess marks a delivery for the calendar day of at, evaluated in
// at's location, and clears the error state. LastPostedAt never moves
// backwards, so a backfill leaves a newer delivery in place.
func (s *Store) RecordSuccess(id uint64, at time.Time) error {
	_, err := s.update(id, func(sub *Subscription) {
		sub.markDelivered(at)
		sub.LastError = ""
		sub.ConsecutiveErrors = 0
	})
	return err
}

// RecordError counts a failed delivery and deactivates the subscription
// once AutoDeactivateThreshold consecutive failures are reached. It reports
// whether this call deactivated it.
func (s *Store) RecordError(id uint64, msg string) (bool, error) {
	var deactivated bool
	_, err := s.update(id, func(sub *Subscription) {
		sub.LastError = msg
		sub.ConsecutiveErrors++
		if sub.Active && sub.ConsecutiveErrors >= AutoDeactivateThreshold {
			sub.Active = false
			deactivated = true
		}
	})
	return deactivated, err
}

func (s *Store) DeactivateSubscription(id uint64) error {
	_, err := s.update(id, func(sub *Subscription) { sub.Active = false })
	return err
}

// DeactivateByDestination deactivates every active subscription for
// destination and reports how many were changed.
func (s *Store) DeactivateByDestination(destination string) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)
		var matched []*Subscription
		if err := b.ForEach(func(_ []byte, v []byte) error {
			var sub Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if sub.Active && sub.Destination == destination {
				matched = append(matched, &sub)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, sub := range matched {
			sub.Active = false
			if err := putSubscription(b, sub); err != nil {
				return err
			}
		}
		n = len(matched)
		return nil
	})
	return n, err
}

// RecordAttempt appends an audit record. The ID and timestamp are assigned
// when empty.
func (s *Store) RecordAttempt(a *Attempt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(attemptsBucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.ID = id
		if a.At.IsZero() {
			a.At = s.now().UTC()
		}
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// ListAttempts returns the newest attempts first. A zero subscriptionID
// lists attempts of every subscription; limit <= 0 means no limit.
func (s *Store) ListAttempts(subscriptionID uint64, limit int) ([]*Attempt, error) {
	var attempts []*Attempt
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(attemptsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var a Attempt
			if err := json.Unmarshal(v, &a); err != nil {
				continue
			}
			if subscriptionID != 0 && a.SubscriptionID != subscriptionID {
				continue
			}
			attempts = append(attempts, &a)
			if limit > 0 && len(attempts) >= limit {
				break
			}
		}
		return nil
	})
	sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].ID > attempts[j].ID })
	return attempts, err
}
