package history

import (
	"sync"
	"time"

	"spawnwatch/internal/model"
)

// Record is one dispatched delivery and its outcome.
type Record struct {
	Item        model.DeliveryItem `json:"item"`
	Error       string             `json:"error,omitempty"`
	DeliveredAt time.Time          `json:"delivered_at"`
}

// Store is a bounded ring of the most recent deliveries.
type Store struct {
	mu    sync.RWMutex
	buf   []Record
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Observe matches the queue observer signature.
func (s *Store) Observe(item model.DeliveryItem, err error) {
	rec := Record{Item: item, DeliveredAt: time.Now().UTC()}
	if err != nil {
		rec.Error = err.Error()
	}
	s.Add(rec)
}

func (s *Store) Add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

// List returns up to limit of the newest records, oldest first.
func (s *Store) List(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Record, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.buf {
		if !r.DeliveredAt.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

// ForRecipient filters the ring by recipient, newest last.
func (s *Store) ForRecipient(recipient string, limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.buf {
		if r.Item.Recipient == recipient {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}
