package subscription

import (
	"context"
	"strings"
	"sync"

	"spawnwatch/internal/config"
)

// Eligibility decides whether a subscriber may receive notifications at
// all.
type Eligibility interface {
	IsEligible(ctx context.Context, subscriberID string) (bool, error)
}

// Regions returns the region names a subscriber has joined. Creature
// notifications are only sent for regions in this list.
type Regions interface {
	Regions(ctx context.Context, subscriberID string) ([]string, error)
}

// Privileges extends Eligibility with the moderator tier, which bypasses
// the common species floor.
type Privileges interface {
	Eligibility
	IsModerator(ctx context.Context, subscriberID string) (bool, error)
}

// StaticAccess serves eligibility, privileges and region membership from
// the process configuration. Update swaps the lists on config reload.
type StaticAccess struct {
	mu         sync.RWMutex
	all        bool
	supporters map[string]struct{}
	moderators map[string]struct{}
	regions    map[string][]string
}

func NewStaticAccess(cfg config.AccessConfig) *StaticAccess {
	a := &StaticAccess{}
	a.Update(cfg)
	return a
}

func (a *StaticAccess) Update(cfg config.AccessConfig) {
	supporters := toSet(cfg.Supporters)
	moderators := toSet(cfg.Moderators)
	regions := make(map[string][]string, len(cfg.Regions))
	for id, list := range cfg.Regions {
		regions[strings.TrimSpace(id)] = append([]string(nil), list...)
	}
	a.mu.Lock()
	a.all = cfg.AllEligible
	a.supporters = supporters
	a.moderators = moderators
	a.regions = regions
	a.mu.Unlock()
}

// IsEligible is true for supporters and moderators, or for everyone when
// AllEligible is set.
func (a *StaticAccess) IsEligible(_ context.Context, id string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.all {
		return true, nil
	}
	_, sup := a.supporters[id]
	_, mod := a.moderators[id]
	return sup || mod, nil
}

func (a *StaticAccess) IsModerator(_ context.Context, id string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.moderators[id]
	return ok, nil
}

func (a *StaticAccess) Regions(_ context.Context, id string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.regions[id], nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}
