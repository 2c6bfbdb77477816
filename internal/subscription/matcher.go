package subscription

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"spawnwatch/internal/config"
	"spawnwatch/internal/filter"
	"spawnwatch/internal/geofence"
	"spawnwatch/internal/model"
)

// Catalog reports whether a species id is known.
type Catalog interface {
	Has(id int) bool
}

// Outcome is the result for one subscriber: exactly one of Delivery and
// Snoozed is set.
type Outcome struct {
	SubscriberID string
	Delivery     *model.DeliveryItem
	Snoozed      *model.SnoozedItem
}

type Matcher struct {
	eligibility     Eligibility
	regions         Regions
	catalog         Catalog
	location        *time.Location
	enforceDistance atomic.Bool
	enforceVenues   atomic.Bool
	logger          *slog.Logger
}

func NewMatcher(cfg config.SubscriptionConfig, eligibility Eligibility, regions Regions, catalog Catalog, loc *time.Location, logger *slog.Logger) *Matcher {
	if loc == nil {
		loc = time.Local
	}
	m := &Matcher{
		eligibility: eligibility,
		regions:     regions,
		catalog:     catalog,
		location:    loc,
		logger:      logger,
	}
	m.UpdateConfig(cfg)
	return m
}

func (m *Matcher) UpdateConfig(cfg config.SubscriptionConfig) {
	m.enforceDistance.Store(cfg.EnforceDistance)
	m.enforceVenues.Store(cfg.EnforceVenues)
}

// Evaluate matches ev against every subscription in order. The region is
// the first geofence containing the event; events outside every geofence
// and events for unknown species produce nothing.
func (m *Matcher) Evaluate(ctx context.Context, ev model.Event, subs []*model.Subscription, fences []*geofence.Geofence, now time.Time) []Outcome {
	if model.Expired(ev, now) {
		return nil
	}
	sel := &selector{m: m}
	ev.Accept(sel)
	if sel.match == nil {
		return nil
	}
	g, ok := geofence.FindContaining(fences, ev.Location())
	if !ok {
		if m.logger != nil {
			m.logger.Debug("no region for event", "kind", ev.Kind(), "subject", ev.Subject(),
				"lat", ev.Location().Lat, "lng", ev.Location().Lng)
		}
		return nil
	}
	region := g.Name
	local := now.In(m.location)

	var out []Outcome
	for _, sub := range subs {
		if sub == nil || !sub.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return out
		}
		o, ok := m.evaluateOne(ctx, sel, ev, sub, region, local)
		if ok {
			out = append(out, o)
		}
	}
	return out
}

func (m *Matcher) evaluateOne(ctx context.Context, sel *selector, ev model.Event, sub *model.Subscription, region string, local time.Time) (Outcome, bool) {
	id := sub.SubscriberID
	eligible, err := m.eligibility.IsEligible(ctx, id)
	if err != nil {
		m.warn("eligibility lookup failed", id, err)
		return Outcome{}, false
	}
	if !eligible {
		return Outcome{}, false
	}
	if sel.regionGate {
		joined, err := m.regions.Regions(ctx, id)
		if err != nil {
			m.warn("region lookup failed", id, err)
			return Outcome{}, false
		}
		if !containsFold(joined, region) {
			return Outcome{}, false
		}
	}
	if reason := sel.match(sub, region); reason != "" {
		return Outcome{}, false
	}
	if reason := m.softConstraints(sel, ev, sub); reason != "" {
		if m.logger != nil {
			m.logger.Debug("subscription constraint not met", "subscriber_id", id, "kind", ev.Kind(),
				"reason", reason, "enforced", true)
		}
		return Outcome{}, false
	}
	if task, ok := ev.(*model.Task); ok && snoozed(sub, local) {
		item := model.NewSnoozedItem(id, task, region, local)
		return Outcome{SubscriberID: id, Snoozed: &item}, true
	}
	item := model.NewDeliveryItem(model.SourceSubscription, id, id, ev, region, local)
	return Outcome{SubscriberID: id, Delivery: &item}, true
}

// softConstraints evaluates the distance and venue allow-list preferences.
// Unless enforcement is configured a miss is only logged.
func (m *Matcher) softConstraints(sel *selector, ev model.Event, sub *model.Subscription) string {
	if sub.DistanceM > 0 && (sub.Latitude != 0 || sub.Longitude != 0) {
		d := geofence.Distance(model.Point{Lat: sub.Latitude, Lng: sub.Longitude}, ev.Location())
		if d > float64(sub.DistanceM) {
			if m.enforceDistance.Load() {
				return "distance"
			}
			if m.logger != nil {
				m.logger.Debug("distance preference not met", "subscriber_id", sub.SubscriberID,
					"distance_m", int(d), "max_m", sub.DistanceM, "enforced", false)
			}
		}
	}
	if sel.venueName != "" && len(sub.Venues) > 0 && !venueListed(sub.Venues, sel.venueName) {
		if m.enforceVenues.Load() {
			return "venue"
		}
		if m.logger != nil {
			m.logger.Debug("venue preference not met", "subscriber_id", sub.SubscriberID,
				"venue", sel.venueName, "enforced", false)
		}
	}
	return ""
}

func (m *Matcher) warn(msg, id string, err error) {
	if m.logger != nil {
		m.logger.Warn(msg, "subscriber_id", id, "err", err)
	}
}

// snoozed reports whether task notifications are deferred at local time.
func snoozed(sub *model.Subscription, local time.Time) bool {
	if sub.AlertTime == nil {
		return false
	}
	y, mo, d := local.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, local.Location())
	return *sub.AlertTime > local.Sub(midnight)
}

func venueListed(venues []model.VenuePref, name string) bool {
	name = strings.ToLower(name)
	for _, v := range venues {
		if strings.Contains(name, strings.ToLower(v.Name)) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// selector picks the per-variant preference check. match stays nil for
// events that no subscriber preference can select.
type selector struct {
	m          *Matcher
	match      func(sub *model.Subscription, region string) string
	regionGate bool
	venueName  string
}

func (s *selector) VisitCreature(c *model.Creature) {
	if !s.m.catalog.Has(c.SpeciesID) {
		return
	}
	s.regionGate = true
	s.match = func(sub *model.Subscription, _ string) string {
		pref, ok := sub.Creature(c.SpeciesID)
		if !ok {
			return "not subscribed"
		}
		switch {
		case c.IV < float64(pref.MinIV):
			return "iv"
		case c.Level < pref.MinLevel:
			return "level"
		case !filter.MatchGender(pref.Gender, c.Gender):
			return "gender"
		}
		return ""
	}
}

func (s *selector) VisitBoss(b *model.Boss) {
	if b.IsEgg() || !s.m.catalog.Has(b.SpeciesID) {
		return
	}
	s.venueName = b.VenueName
	s.match = func(sub *model.Subscription, region string) string {
		for _, pref := range sub.Bosses {
			if pref.SpeciesID == b.SpeciesID && model.InRegions(pref.Regions, region) {
				return ""
			}
		}
		return "not subscribed"
	}
}

func (s *selector) VisitTask(t *model.Task) {
	reward := strings.ToLower(t.Reward)
	s.match = func(sub *model.Subscription, region string) string {
		for _, pref := range sub.Tasks {
			kw := strings.ToLower(strings.TrimSpace(pref.RewardKeyword))
			if kw != "" && strings.Contains(reward, kw) && model.InRegions(pref.Regions, region) {
				return ""
			}
		}
		return "not subscribed"
	}
}

func (s *selector) VisitVenue(*model.Venue) {}

func (s *selector) VisitVenueDetail(*model.VenueDetail) {}
