// Package alarm evaluates events against the configured alarm rules.
package alarm

import (
	"log/slog"
	"time"

	"spawnwatch/internal/filter"
	"spawnwatch/internal/geofence"
	"spawnwatch/internal/model"
	"spawnwatch/internal/rules"
)

type Match struct {
	Rule     *rules.Rule
	Geofence *geofence.Geofence
}

// Item converts the match into a delivery addressed to the rule sink.
func (m Match) Item(ev model.Event, now time.Time) model.DeliveryItem {
	return model.NewDeliveryItem(model.SourceAlarm, m.Rule.Name, m.Rule.Sink, ev, m.Geofence.Name, now)
}

// RuleSource yields the active rule snapshot.
type RuleSource interface {
	Current() *rules.RuleSet
}

type Engine struct {
	rules  RuleSource
	logger *slog.Logger
}

func NewEngine(src RuleSource, logger *slog.Logger) *Engine {
	return &Engine{rules: src, logger: logger}
}

// Evaluate returns the rules that accept ev, in rule order. The snapshot is
// read once so a concurrent reload cannot mix two rule sets.
func (e *Engine) Evaluate(ev model.Event, now time.Time) []Match {
	if model.Expired(ev, now) {
		return nil
	}
	rs := e.rules.Current()
	if !rs.Flags.Enabled(ev.Kind()) {
		return nil
	}
	var out []Match
	for _, rule := range rs.Rules {
		if !rule.Enabled {
			continue
		}
		v := &evaluator{set: &rule.Filters}
		ev.Accept(v)
		if !v.applicable {
			continue
		}
		g, ok := geofence.FindContaining(rule.Geofences, ev.Location())
		if !ok {
			continue
		}
		if v.reason != "" {
			if e.logger != nil {
				e.logger.Debug("alarm skipped", "rule", rule.Name, "kind", ev.Kind(), "subject", ev.Subject(), "reason", v.reason)
			}
			continue
		}
		out = append(out, Match{Rule: rule, Geofence: g})
	}
	return out
}

// evaluator selects the filter for the event variant and runs its predicate
// chain. applicable is false when the rule has no enabled filter for the
// variant; reason is empty when every predicate passed.
type evaluator struct {
	set        *filter.Set
	applicable bool
	reason     string
}

func (v *evaluator) VisitCreature(c *model.Creature) {
	f := v.set.Creatures
	if f == nil || !f.Enabled {
		return
	}
	v.applicable = true
	v.reason = f.Match(c)
}

func (v *evaluator) VisitBoss(b *model.Boss) {
	if b.IsEgg() {
		f := v.set.Eggs
		if f == nil || !f.Enabled {
			return
		}
		v.applicable = true
		v.reason = f.Match(b)
		return
	}
	f := v.set.Bosses
	if f == nil || !f.Enabled {
		return
	}
	v.applicable = true
	v.reason = f.Match(b)
}

func (v *evaluator) VisitTask(t *model.Task) {
	f := v.set.Tasks
	if f == nil || !f.Enabled {
		return
	}
	v.applicable = true
	v.reason = f.Match(t)
}

func (v *evaluator) VisitVenue(g *model.Venue) {
	f := v.set.Venues
	if f == nil || !f.Enabled {
		return
	}
	v.applicable = true
	v.reason = f.Match(g)
}

func (v *evaluator) VisitVenueDetail(d *model.VenueDetail) {
	f := v.set.VenueDetails
	if f == nil || !f.Enabled {
		return
	}
	v.applicable = true
	v.reason = f.Match(d)
}
