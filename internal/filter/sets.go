package filter

import (
	"strings"

	"spawnwatch/internal/model"
)

// Each Match method returns an empty reason when the event passes, otherwise
// a short description of the first failing predicate.

type CreatureFilter struct {
	Enabled       bool
	IDs           IDs[int]
	IV            Range
	CP            Range
	Level         Range
	Gender        model.Gender
	IgnoreMissing bool
}

func (f *CreatureFilter) Match(c *model.Creature) string {
	switch {
	case !f.IDs.Match(c.SpeciesID):
		return "species filter"
	case f.IgnoreMissing && c.MissingStats:
		return "missing stats"
	case !f.IV.Match(c.IV):
		return "iv range"
	case !f.CP.Match(float64(c.CP)):
		return "cp range"
	case !f.Level.Match(float64(c.Level)):
		return "level range"
	case !MatchGender(f.Gender, c.Gender):
		return "gender"
	}
	return ""
}

type BossFilter struct {
	Enabled       bool
	IDs           IDs[int]
	Level         Range
	CP            Range
	Team          model.Team
	OnlyExclusive bool
	IgnoreMissing bool
}

func (f *BossFilter) Match(b *model.Boss) string {
	switch {
	case !f.IDs.Match(b.SpeciesID):
		return "species filter"
	case f.OnlyExclusive && !b.Exclusive:
		return "only exclusive"
	case !MatchTeam(f.Team, b.Team):
		return "team"
	case f.IgnoreMissing && b.MissingStats():
		return "missing stats"
	case !f.Level.Match(float64(b.Level)):
		return "level range"
	case !f.CP.Match(float64(b.CP)):
		return "cp range"
	}
	return ""
}

type EggFilter struct {
	Enabled       bool
	Level         Range
	Team          model.Team
	OnlyExclusive bool
}

func (f *EggFilter) Match(b *model.Boss) string {
	switch {
	case !f.Level.Match(float64(b.Level)):
		return "level range"
	case f.OnlyExclusive && !b.Exclusive:
		return "only exclusive"
	case !MatchTeam(f.Team, b.Team):
		return "team"
	}
	return ""
}

type TaskFilter struct {
	Enabled bool
	Rewards Keywords
}

func (f *TaskFilter) Match(t *model.Task) string {
	if !f.Rewards.Match(t.Reward) {
		return "reward keywords"
	}
	return ""
}

type VenueFilter struct {
	Enabled bool
	IDs     IDs[string]
	Team    model.Team
}

func (f *VenueFilter) Match(v *model.Venue) string {
	switch {
	case !matchVenue(f.IDs, v.VenueID, v.Name):
		return "venue filter"
	case !MatchTeam(f.Team, v.Team):
		return "team"
	}
	return ""
}

type VenueDetailFilter struct {
	Enabled       bool
	IDs           IDs[string]
	Team          model.Team
	OnlyExclusive bool
}

func (f *VenueDetailFilter) Match(d *model.VenueDetail) string {
	switch {
	case !matchVenue(f.IDs, d.VenueID, d.Name):
		return "venue filter"
	case !MatchTeam(f.Team, d.Team):
		return "team"
	case f.OnlyExclusive && !d.Exclusive:
		return "only exclusive"
	}
	return ""
}

// Venue lists hold ids or lower-cased names.
func matchVenue(ids IDs[string], id, name string) bool {
	listed := ids.Contains(id) || ids.Contains(strings.ToLower(name))
	if ids.Mode == Exclude {
		return !listed
	}
	return listed || ids.Len() == 0
}

// Set is the per-variant filter collection of one alarm rule. A nil member
// means the rule does not handle that variant.
type Set struct {
	Creatures    *CreatureFilter
	Bosses       *BossFilter
	Eggs         *EggFilter
	Tasks        *TaskFilter
	Venues       *VenueFilter
	VenueDetails *VenueDetailFilter
}
