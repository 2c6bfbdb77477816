package model

import (
	"strings"
	"time"
)

type CreaturePref struct {
	SpeciesID int    `json:"species_id"`
	MinIV     int    `json:"min_iv"`
	MinLevel  int    `json:"min_level"`
	Gender    Gender `json:"gender"`
}

// BossPref matches a boss species inside Regions; an empty region set
// matches every region.
type BossPref struct {
	SpeciesID int      `json:"species_id"`
	Regions   []string `json:"regions"`
}

type TaskPref struct {
	RewardKeyword string   `json:"reward_keyword"`
	Regions       []string `json:"regions"`
}

type VenuePref struct {
	Name string `json:"name"`
}

type Subscription struct {
	SubscriberID string         `json:"subscriber_id"`
	Enabled      bool           `json:"enabled"`
	Creatures    []CreaturePref `json:"creatures"`
	Bosses       []BossPref     `json:"bosses"`
	Tasks        []TaskPref     `json:"tasks"`
	Venues       []VenuePref    `json:"venues"`
	// AlertTime is an offset from local midnight; task notifications that
	// arrive earlier in the day are snoozed.
	AlertTime *time.Duration `json:"alert_time,omitempty"`
	DistanceM int            `json:"distance_m"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func NewSubscription(id string) *Subscription {
	return &Subscription{SubscriberID: id, Enabled: true}
}

func (s *Subscription) Clone() *Subscription {
	out := *s
	out.Creatures = append([]CreaturePref(nil), s.Creatures...)
	out.Bosses = make([]BossPref, len(s.Bosses))
	for i, b := range s.Bosses {
		out.Bosses[i] = BossPref{SpeciesID: b.SpeciesID, Regions: append([]string(nil), b.Regions...)}
	}
	out.Tasks = make([]TaskPref, len(s.Tasks))
	for i, t := range s.Tasks {
		out.Tasks[i] = TaskPref{RewardKeyword: t.RewardKeyword, Regions: append([]string(nil), t.Regions...)}
	}
	out.Venues = append([]VenuePref(nil), s.Venues...)
	if s.AlertTime != nil {
		at := *s.AlertTime
		out.AlertTime = &at
	}
	return &out
}

func (s *Subscription) Creature(speciesID int) (*CreaturePref, bool) {
	for i := range s.Creatures {
		if s.Creatures[i].SpeciesID == speciesID {
			return &s.Creatures[i], true
		}
	}
	return nil, false
}

func (s *Subscription) Boss(speciesID int) (*BossPref, bool) {
	for i := range s.Bosses {
		if s.Bosses[i].SpeciesID == speciesID {
			return &s.Bosses[i], true
		}
	}
	return nil, false
}

// InRegions reports whether region is in set, or set is empty.
func InRegions(set []string, region string) bool {
	if len(set) == 0 {
		return true
	}
	for _, r := range set {
		if strings.EqualFold(strings.TrimSpace(r), region) {
			return true
		}
	}
	return false
}
