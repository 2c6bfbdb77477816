package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spawnwatch/internal/catalog"
	"spawnwatch/internal/config"
	"spawnwatch/internal/model"
	"spawnwatch/internal/storage"
)

const allArg = "all"

// CreatureRequest carries the constraints applied to every species of one
// add command.
type CreatureRequest struct {
	MinIV    int
	MinLevel int
	Gender   string
}

// Result lists what an add command did per species.
type Result struct {
	Added     []int    `json:"added"`
	Updated   []int    `json:"updated"`
	Unchanged []int    `json:"unchanged"`
	Rejected  []int    `json:"rejected"`
	Unknown   []string `json:"unknown"`
}

func (r Result) changed() bool { return len(r.Added) > 0 || len(r.Updated) > 0 }

// Manager owns the subscription records. Mutations for one subscriber are
// serialized, persisted, and only then published to readers.
type Manager struct {
	store   storage.Store
	catalog *catalog.Catalog
	access  Privileges
	regions func() []string
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time

	cfg   atomic.Pointer[config.SubscriptionConfig]
	locks *keyedMutex

	loadMu sync.Mutex

	mu       sync.RWMutex
	subs     map[string]*model.Subscription
	touched  map[string]struct{}
	snapshot atomic.Pointer[[]*model.Subscription]
}

// NewManager wires the repository. knownRegions, when non-nil, restricts
// boss and task region names to the configured geofences.
func NewManager(cfg config.SubscriptionConfig, store storage.Store, cat *catalog.Catalog, access Privileges, knownRegions func() []string, loc *time.Location, logger *slog.Logger) *Manager {
	if loc == nil {
		loc = time.Local
	}
	m := &Manager{
		store:   store,
		catalog: cat,
		access:  access,
		regions: knownRegions,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
		locks:   newKeyedMutex(),
		subs:    make(map[string]*model.Subscription),
	}
	m.UpdateConfig(cfg)
	m.mu.Lock()
	m.publishLocked()
	m.mu.Unlock()
	return m
}

func (m *Manager) UpdateConfig(cfg config.SubscriptionConfig) {
	c := cfg
	m.cfg.Store(&c)
}

func (m *Manager) config() *config.SubscriptionConfig {
	return m.cfg.Load()
}

// Load replaces the in-memory view with the persisted records. Records this
// manager saved or deleted while the list was being read keep their local
// state, since the listing may predate them.
func (m *Manager) Load(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	m.touched = make(map[string]struct{})
	m.mu.Unlock()

	list, err := m.store.List(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	touched := m.touched
	m.touched = nil
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	next := make(map[string]*model.Subscription, len(list))
	for _, sub := range list {
		next[sub.SubscriberID] = sub
	}
	for id := range touched {
		if cur, ok := m.subs[id]; ok {
			next[id] = cur
		} else {
			delete(next, id)
		}
	}
	m.subs = next
	m.publishLocked()
	if m.logger != nil {
		m.logger.Debug("subscriptions loaded", "count", len(next))
	}
	return nil
}

// Run reloads the subscriptions from the repository every interval so that
// records written by other processes reach the matcher. A zero interval
// disables refreshing.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Load(ctx); err != nil && ctx.Err() == nil && m.logger != nil {
				m.logger.Warn("subscription refresh failed", "err", err)
			}
		}
	}
}

// Snapshot returns the current subscriptions ordered by subscriber id. The
// returned records are shared and must not be modified.
func (m *Manager) Snapshot() []*model.Subscription {
	if p := m.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Manager) Get(id string) (*model.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	return sub, ok
}

// publishLocked rebuilds the reader snapshot. Callers hold m.mu so that
// snapshots are stored in the order the map changed.
func (m *Manager) publishLocked() {
	list := make([]*model.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		list = append(list, sub)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SubscriberID < list[j].SubscriberID })
	m.snapshot.Store(&list)
}

// mutate applies fn to a copy of the subscriber's record. The copy is saved
// and published only when fn reports a change and returns no error.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*model.Subscription) (bool, error)) (*model.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("subscriber_id", id, "must not be empty")
	}
	if !m.config().Enabled {
		return nil, ErrDisabled
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	var next *model.Subscription
	if cur, ok := m.Get(id); ok {
		next = cur.Clone()
	} else {
		next = model.NewSubscription(id)
	}
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return next, nil
	}
	next.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save subscription %s: %w", id, err)
	}
	m.mu.Lock()
	m.subs[id] = next
	m.markLocked(id)
	m.publishLocked()
	m.mu.Unlock()
	return next, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.subs, id)
	m.markLocked(id)
	m.publishLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) markLocked(id string) {
	if m.touched != nil {
		m.touched[id] = struct{}{}
	}
}

func (m *Manager) privileges(ctx context.Context, id string) (eligible, moderator bool, err error) {
	if eligible, err = m.access.IsEligible(ctx, id); err != nil {
		return false, false, fmt.Errorf("eligibility lookup: %w", err)
	}
	if moderator, err = m.access.IsModerator(ctx, id); err != nil {
		return false, false, fmt.Errorf("moderator lookup: %w", err)
	}
	return eligible || moderator, moderator, nil
}

func (m *Manager) validateCreature(req CreatureRequest) (model.Gender, error) {
	if req.MinIV < 0 || req.MinIV > 100 {
		return "", invalid("iv", req.MinIV, "must be within 0-100")
	}
	if maxLevel := m.config().MaxLevel; req.MinLevel < 0 || req.MinLevel > maxLevel {
		return "", invalid("level", req.MinLevel, "must be within 0-"+strconv.Itoa(maxLevel))
	}
	g, ok := model.ParseGender(req.Gender)
	if !ok || (g != model.GenderAny && g != model.GenderMale && g != model.GenderFemale) {
		return "", invalid("gender", req.Gender, "must be *, m or f")
	}
	return g, nil
}

// effectiveIV applies the per-species override, if any.
func (m *Manager) effectiveIV(speciesID, iv int) int {
	if v, ok := m.config().IVOverrides[speciesID]; ok {
		return v
	}
	return iv
}

func (m *Manager) isCommon(speciesID int) bool {
	for _, id := range m.config().CommonSpecies {
		if id == speciesID {
			return true
		}
	}
	return false
}

func setCreature(sub *model.Subscription, pref model.CreaturePref) (added, updated bool) {
	if cur, ok := sub.Creature(pref.SpeciesID); ok {
		if *cur == pref {
			return false, false
		}
		*cur = pref
		return false, true
	}
	sub.Creatures = append(sub.Creatures, pref)
	return true, false
}

// AddCreatures subscribes to each species named by a numeric id or name.
// Unknown names are reported in the result rather than failing the call.
func (m *Manager) AddCreatures(ctx context.Context, id string, args []string, req CreatureRequest) (Result, error) {
	gender, err := m.validateCreature(req)
	if err != nil {
		return Result{}, err
	}
	privileged, moderator, err := m.privileges(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !privileged && (req.MinLevel > 0 || gender != model.GenderAny) {
		return Result{}, fmt.Errorf("level and gender constraints: %w", ErrNotPrivileged)
	}
	cfg := m.config()
	var res Result
	_, err = m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		res = Result{}
		for _, arg := range args {
			speciesID, ok := m.catalog.Resolve(arg)
			if !ok {
				res.Unknown = append(res.Unknown, arg)
				continue
			}
			if m.isCommon(speciesID) && req.MinIV < cfg.CommonMinIV && !moderator {
				res.Rejected = append(res.Rejected, speciesID)
				continue
			}
			pref := model.CreaturePref{
				SpeciesID: speciesID,
				MinIV:     m.effectiveIV(speciesID, req.MinIV),
				MinLevel:  req.MinLevel,
				Gender:    gender,
			}
			if _, exists := sub.Creature(speciesID); !exists && !privileged &&
				cfg.MaxCreatures > 0 && len(sub.Creatures) >= cfg.MaxCreatures {
				return false, fmt.Errorf("%d creatures: %w", cfg.MaxCreatures, ErrLimitReached)
			}
			switch added, updated := setCreature(sub, pref); {
			case added:
				res.Added = append(res.Added, speciesID)
			case updated:
				res.Updated = append(res.Updated, speciesID)
			default:
				res.Unchanged = append(res.Unchanged, speciesID)
			}
		}
		return res.changed(), nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// AddAllCreatures subscribes to every catalogue species. Only privileged
// subscribers may use it and the minimum IV must reach the bulk floor;
// species with an IV override ignore the requested value.
func (m *Manager) AddAllCreatures(ctx context.Context, id string, req CreatureRequest) (Result, error) {
	gender, err := m.validateCreature(req)
	if err != nil {
		return Result{}, err
	}
	privileged, _, err := m.privileges(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !privileged {
		return Result{}, ErrNotPrivileged
	}
	cfg := m.config()
	if req.MinIV < cfg.BulkMinIV {
		return Result{}, fmt.Errorf("%d < %d: %w", req.MinIV, cfg.BulkMinIV, ErrBelowFloor)
	}
	var res Result
	_, err = m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		res = Result{}
		for _, speciesID := range m.catalog.IDs() {
			pref := model.CreaturePref{
				SpeciesID: speciesID,
				MinIV:     m.effectiveIV(speciesID, req.MinIV),
				MinLevel:  req.MinLevel,
				Gender:    gender,
			}
			switch added, updated := setCreature(sub, pref); {
			case added:
				res.Added = append(res.Added, speciesID)
			case updated:
				res.Updated = append(res.Updated, speciesID)
			default:
				res.Unchanged = append(res.Unchanged, speciesID)
			}
		}
		return res.changed(), nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// RemoveCreatures drops the named species; "all" clears every creature
// subscription.
func (m *Manager) RemoveCreatures(ctx context.Context, id string, args []string) (removed []int, unknown []string, err error) {
	_, err = m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		removed, unknown = nil, nil
		if hasAll(args) {
			for _, c := range sub.Creatures {
				removed = append(removed, c.SpeciesID)
			}
			sub.Creatures = nil
			return len(removed) > 0, nil
		}
		for _, arg := range args {
			speciesID, ok := m.catalog.Resolve(arg)
			if !ok {
				unknown = append(unknown, arg)
				continue
			}
			kept := sub.Creatures[:0]
			for _, c := range sub.Creatures {
				if c.SpeciesID == speciesID {
					removed = append(removed, speciesID)
					continue
				}
				kept = append(kept, c)
			}
			sub.Creatures = kept
		}
		return len(removed) > 0, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return removed, unknown, nil
}

// normalizeRegion maps "" and "all" to the wildcard and checks other names
// against the known regions.
func (m *Manager) normalizeRegion(region string) (string, error) {
	region = strings.TrimSpace(region)
	if region == "" || strings.EqualFold(region, allArg) {
		return "", nil
	}
	if m.regions == nil {
		return region, nil
	}
	for _, known := range m.regions() {
		if strings.EqualFold(known, region) {
			return known, nil
		}
	}
	return "", invalid("region", region, "is not a configured region")
}

// mergeRegion widens set by region. The wildcard absorbs everything.
func mergeRegion(set []string, region string) ([]string, bool) {
	if region == "" {
		return nil, len(set) > 0
	}
	if len(set) == 0 || containsFold(set, region) {
		return set, false
	}
	return append(set, region), true
}

// AddBosses subscribes to boss species inside region ("" or "all" for
// every region).
func (m *Manager) AddBosses(ctx context.Context, id string, args []string, region string) (Result, error) {
	region, err := m.normalizeRegion(region)
	if err != nil {
		return Result{}, err
	}
	privileged, _, err := m.privileges(ctx, id)
	if err != nil {
		return Result{}, err
	}
	cfg := m.config()
	ids, unknown := m.resolveAll(args)
	if hasAll(args) && !privileged {
		return Result{}, fmt.Errorf("all bosses: %w", ErrNotPrivileged)
	}
	var res Result
	_, err = m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		res = Result{Unknown: unknown}
		for _, speciesID := range ids {
			if pref, ok := sub.Boss(speciesID); ok {
				merged, changed := mergeRegion(pref.Regions, region)
				pref.Regions = merged
				if changed {
					res.Updated = append(res.Updated, speciesID)
				} else {
					res.Unchanged = append(res.Unchanged, speciesID)
				}
				continue
			}
			if !privileged && cfg.MaxBosses > 0 && len(sub.Bosses) >= cfg.MaxBosses {
				return false, fmt.Errorf("%d bosses: %w", cfg.MaxBosses, ErrLimitReached)
			}
			pref := model.BossPref{SpeciesID: speciesID}
			if region != "" {
				pref.Regions = []string{region}
			}
			sub.Bosses = append(sub.Bosses, pref)
			res.Added = append(res.Added, speciesID)
		}
		return res.changed(), nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// RemoveBosses drops species entirely, or only one region of them when
// region is set. A preference losing its last region is removed rather than
// widened to every region.
func (m *Manager) RemoveBosses(ctx context.Context, id string, args []string, region string) (removed []int, unknown []string, err error) {
	region, err = m.normalizeRegion(region)
	if err != nil {
		return nil, nil, err
	}
	ids, unknown := m.resolveAll(args)
	all := hasAll(args)
	_, err = m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		removed = nil
		kept := sub.Bosses[:0]
		for _, pref := range sub.Bosses {
			if !all && !containsInt(ids, pref.SpeciesID) {
				kept = append(kept, pref)
				continue
			}
			if region != "" {
				var rest []string
				for _, r := range pref.Regions {
					if !strings.EqualFold(r, region) {
						rest = append(rest, r)
					}
				}
				if len(pref.Regions) == 0 || len(rest) == len(pref.Regions) {
					kept = append(kept, pref)
					continue
				}
				if len(rest) > 0 {
					pref.Regions = rest
					kept = append(kept, pref)
				}
			}
			removed = append(removed, pref.SpeciesID)
		}
		sub.Bosses = kept
		return len(removed) > 0, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return removed, unknown, nil
}

// AddTask subscribes to tasks whose reward contains keyword.
func (m *Manager) AddTask(ctx context.Context, id, keyword, region string) (bool, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" || keyword == allArg {
		return false, invalid("reward", keyword, "must name a reward")
	}
	region, err := m.normalizeRegion(region)
	if err != nil {
		return false, err
	}
	privileged, _, err := m.privileges(ctx, id)
	if err != nil {
		return false, err
	}
	cfg := m.config()
	var changed bool
	_, err = m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		changed = false
		for i := range sub.Tasks {
			if strings.EqualFold(sub.Tasks[i].RewardKeyword, keyword) {
				sub.Tasks[i].Regions, changed = mergeRegion(sub.Tasks[i].Regions, region)
				return changed, nil
			}
		}
		if !privileged && cfg.MaxTasks > 0 && len(sub.Tasks) >= cfg.MaxTasks {
			return false, fmt.Errorf("%d tasks: %w", cfg.MaxTasks, ErrLimitReached)
		}
		pref := model.TaskPref{RewardKeyword: keyword}
		if region != "" {
			pref.Regions = []string{region}
		}
		sub.Tasks = append(sub.Tasks, pref)
		changed = true
		return true, nil
	})
	return changed, err
}

// RemoveTask drops the keyword; "all" clears every task subscription.
func (m *Manager) RemoveTask(ctx context.Context, id, keyword string) (int, error) {
	keyword = strings.TrimSpace(keyword)
	var removed int
	_, err := m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		removed = 0
		kept := sub.Tasks[:0]
		for _, t := range sub.Tasks {
			if strings.EqualFold(keyword, allArg) || strings.EqualFold(t.RewardKeyword, keyword) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		sub.Tasks = kept
		return removed > 0, nil
	})
	return removed, err
}

func (m *Manager) AddVenue(ctx context.Context, id, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, allArg) {
		return false, invalid("venue", name, "must name a venue")
	}
	var changed bool
	_, err := m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		for _, v := range sub.Venues {
			if strings.EqualFold(v.Name, name) {
				changed = false
				return false, nil
			}
		}
		sub.Venues = append(sub.Venues, model.VenuePref{Name: name})
		changed = true
		return true, nil
	})
	return changed, err
}

// RemoveVenue drops one venue; "all" clears the allow-list.
func (m *Manager) RemoveVenue(ctx context.Context, id, name string) (int, error) {
	name = strings.TrimSpace(name)
	var removed int
	_, err := m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		removed = 0
		kept := sub.Venues[:0]
		for _, v := range sub.Venues {
			if strings.EqualFold(name, allArg) || strings.EqualFold(v.Name, name) {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		sub.Venues = kept
		return removed > 0, nil
	})
	return removed, err
}

// ParseAlertTime accepts "HH:MM" or an empty/"off" value that clears the
// alert time.
func ParseAlertTime(raw string) (*time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "off" || raw == "none" {
		return nil, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return nil, invalid("alert_time", raw, "must be HH:MM")
	}
	d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	return &d, nil
}

func (m *Manager) SetAlertTime(ctx context.Context, id string, at *time.Duration) error {
	if at != nil && (*at < 0 || *at >= 24*time.Hour) {
		return invalid("alert_time", *at, "must be within one day")
	}
	_, err := m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		if at == nil {
			changed := sub.AlertTime != nil
			sub.AlertTime = nil
			return changed, nil
		}
		if sub.AlertTime != nil && *sub.AlertTime == *at {
			return false, nil
		}
		v := *at
		sub.AlertTime = &v
		return true, nil
	})
	return err
}

// SetDistance stores the anchor and radius; zero meters clears the
// constraint.
func (m *Manager) SetDistance(ctx context.Context, id string, meters int, lat, lng float64) error {
	if meters < 0 {
		return invalid("distance", meters, "must be >= 0")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return invalid("coordinates", fmt.Sprintf("%v,%v", lat, lng), "out of range")
	}
	_, err := m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		if sub.DistanceM == meters && sub.Latitude == lat && sub.Longitude == lng {
			return false, nil
		}
		sub.DistanceM, sub.Latitude, sub.Longitude = meters, lat, lng
		return true, nil
	})
	return err
}

func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := m.mutate(ctx, id, func(sub *model.Subscription) (bool, error) {
		if sub.Enabled == enabled {
			return false, nil
		}
		sub.Enabled = enabled
		return true, nil
	})
	return err
}

// RecordSnoozed persists a deferred task notification.
func (m *Manager) RecordSnoozed(ctx context.Context, item model.SnoozedItem) error {
	if err := m.store.AddSnoozed(ctx, item); err != nil {
		return fmt.Errorf("snooze for %s: %w", item.SubscriberID, err)
	}
	return nil
}

// SnoozedToday lists today's deferred tasks, optionally narrowed to rewards
// containing reward.
func (m *Manager) SnoozedToday(ctx context.Context, id, reward string) ([]model.SnoozedItem, error) {
	if _, ok := m.Get(id); !ok {
		if ok, err := m.store.Exists(ctx, id); err != nil {
			return nil, err
		} else if !ok {
			return nil, storage.ErrNotFound
		}
	}
	day := model.DayBucket(m.now().In(m.loc))
	items, err := m.store.ListSnoozed(ctx, id, day)
	if err != nil {
		return nil, err
	}
	reward = strings.ToLower(strings.TrimSpace(reward))
	if reward == "" || reward == allArg {
		return items, nil
	}
	out := items[:0]
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Reward), reward) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *Manager) resolveAll(args []string) ([]int, []string) {
	if hasAll(args) {
		return m.catalog.IDs(), nil
	}
	var ids []int
	var unknown []string
	for _, arg := range args {
		if id, ok := m.catalog.Resolve(arg); ok {
			ids = append(ids, id)
		} else {
			unknown = append(unknown, arg)
		}
	}
	return ids, unknown
}

func hasAll(args []string) bool {
	for _, a := range args {
		if strings.EqualFold(strings.TrimSpace(a), allArg) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
