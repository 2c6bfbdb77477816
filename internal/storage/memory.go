package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"spawnwatch/internal/model"
)

type memoryStore struct {
	mu      sync.RWMutex
	subs    map[string]*model.Subscription
	snoozed []model.SnoozedItem
}

func NewMemory() Store {
	return &memoryStore{subs: make(map[string]*model.Subscription)}
}

func (m *memoryStore) Init(context.Context) error { return nil }
func (m *memoryStore) Close() error               { return nil }

func (m *memoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subs[id]
	return ok, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *memoryStore) List(context.Context) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}

func (m *memoryStore) Save(_ context.Context, sub *model.Subscription) error {
	if sub == nil || sub.SubscriberID == "" {
		return errors.New("subscription has no subscriber id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.SubscriberID] = sub.Clone()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *memoryStore) AddSnoozed(_ context.Context, item model.SnoozedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snoozed = append(m.snoozed, item)
	return nil
}

func (m *memoryStore) ListSnoozed(_ context.Context, id, day string) ([]model.SnoozedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.SnoozedItem
	for _, item := range m.snoozed {
		if item.SubscriberID == id && item.Day == day {
			out = append(out, item)
		}
	}
	return out, nil
}
