package stats

import (
	"sort"
	"sync"
	"time"

	"spawnwatch/internal/model"
)

// Outcome names why an ingested event did or did not reach evaluation.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeExpired   Outcome = "expired"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

type SubjectCount struct {
	Source  model.Source `json:"source"`
	Kind    model.Kind   `json:"kind"`
	Subject string       `json:"subject"`
	Count   uint64       `json:"count"`
}

type Snapshot struct {
	Events     map[model.Kind]map[Outcome]uint64      `json:"events"`
	Matches    map[model.Source]map[model.Kind]uint64 `json:"matches"`
	Deliveries map[string]uint64                      `json:"deliveries"`
	Top        []SubjectCount                         `json:"top"`
	StartedAt  time.Time                              `json:"started_at"`
	UpdatedAt  time.Time                              `json:"updated_at"`
}

type subjectKey struct {
	source  model.Source
	kind    model.Kind
	subject string
}

type subjectEntry struct {
	count    uint64
	lastSeen time.Time
}

// Store keeps monotonic counters for the life of the process. Per-subject
// counts are bounded by limit; the least recently seen subject is evicted
// first.
type Store struct {
	mu         sync.RWMutex
	events     map[model.Kind]map[Outcome]uint64
	matches    map[model.Source]map[model.Kind]uint64
	deliveries map[string]uint64
	subjects   map[subjectKey]*subjectEntry
	limit      int
	startedAt  time.Time
	updatedAt  time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	now := time.Now().UTC()
	return &Store{
		events:     make(map[model.Kind]map[Outcome]uint64),
		matches:    make(map[model.Source]map[model.Kind]uint64),
		deliveries: make(map[string]uint64),
		subjects:   make(map[subjectKey]*subjectEntry),
		limit:      limit,
		startedAt:  now,
		updatedAt:  now,
	}
}

func (s *Store) RecordEvent(kind model.Kind, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.events[kind]
	if !ok {
		m = make(map[Outcome]uint64)
		s.events[kind] = m
	}
	m[outcome]++
	s.updatedAt = time.Now().UTC()
}

// RecordMatch counts one accepted match for source and kind and bumps the
// subject's count.
func (s *Store) RecordMatch(source model.Source, kind model.Kind, subject string) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[source]
	if !ok {
		m = make(map[model.Kind]uint64)
		s.matches[source] = m
	}
	m[kind]++
	s.updatedAt = now
	if subject == "" {
		return
	}
	key := subjectKey{source: source, kind: kind, subject: subject}
	e, ok := s.subjects[key]
	if !ok {
		e = &subjectEntry{}
		s.subjects[key] = e
	}
	e.count++
	e.lastSeen = now
	if len(s.subjects) > s.limit {
		s.evictOldest()
	}
}

// RecordDelivery counts a dispatched item as "delivered" or "failed".
func (s *Store) RecordDelivery(item model.DeliveryItem, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[result]++
	s.updatedAt = time.Now().UTC()
}

// Snapshot copies the counters and the topN most frequent subjects. topN <= 0
// returns every subject.
func (s *Store) Snapshot(topN int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Events:     make(map[model.Kind]map[Outcome]uint64, len(s.events)),
		Matches:    make(map[model.Source]map[model.Kind]uint64, len(s.matches)),
		Deliveries: make(map[string]uint64, len(s.deliveries)),
		StartedAt:  s.startedAt,
		UpdatedAt:  s.updatedAt,
	}
	for kind, m := range s.events {
		c := make(map[Outcome]uint64, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.Events[kind] = c
	}
	for source, m := range s.matches {
		c := make(map[model.Kind]uint64, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.Matches[source] = c
	}
	for k, v := range s.deliveries {
		out.Deliveries[k] = v
	}
	top := make([]SubjectCount, 0, len(s.subjects))
	for key, e := range s.subjects {
		top = append(top, SubjectCount{Source: key.source, Kind: key.kind, Subject: key.subject, Count: e.count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		if top[i].Kind != top[j].Kind {
			return top[i].Kind < top[j].Kind
		}
		if top[i].Subject != top[j].Subject {
			return top[i].Subject < top[j].Subject
		}
		return top[i].Source < top[j].Source
	})
	if topN > 0 && len(top) > topN {
		top = top[:topN]
	}
	out.Top = top
	return out
}

func (s *Store) evictOldest() {
	var oldestKey subjectKey
	var oldest time.Time
	found := false
	for key, e := range s.subjects {
		if !found || e.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = e.lastSeen
			found = true
		}
	}
	if found {
		delete(s.subjects, oldestKey)
	}
}
