// Package filter implements the predicate building blocks shared by alarm
// rules and subscriber preferences.
package filter

import (
	"fmt"
	"strings"

	"spawnwatch/internal/model"
)

type Mode string

const (
	Include Mode = "include"
	Exclude Mode = "exclude"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case "", Include:
		return Include, nil
	case Exclude:
		return Exclude, nil
	}
	return "", fmt.Errorf("unknown filter type %q", v)
}

// IDs is an include/exclude list. Include with an empty list matches every
// id; Exclude blocks only the listed ids.
type IDs[T comparable] struct {
	Mode Mode
	set  map[T]struct{}
}

func NewIDs[T comparable](mode Mode, ids []T) IDs[T] {
	set := make(map[T]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return IDs[T]{Mode: mode, set: set}
}

func (f IDs[T]) Len() int { return len(f.set) }

func (f IDs[T]) Contains(id T) bool {
	_, ok := f.set[id]
	return ok
}

func (f IDs[T]) Match(id T) bool {
	listed := f.Contains(id)
	if f.Mode == Exclude {
		return !listed
	}
	return listed || len(f.set) == 0
}

// Range is an inclusive numeric constraint. Zero on both ends means no
// constraint; a zero maximum with a positive minimum is open-ended.
type Range struct {
	Min float64
	Max float64
}

func (r Range) Unset() bool { return r.Min == 0 && r.Max == 0 }

func (r Range) Match(v float64) bool {
	if r.Unset() {
		return true
	}
	if v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

func (r Range) Validate(name string) error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%s: negative bound", name)
	}
	if r.Max > 0 && r.Min > r.Max {
		return fmt.Errorf("%s: min %v greater than max %v", name, r.Min, r.Max)
	}
	return nil
}

func MatchGender(want, got model.Gender) bool {
	if want == "" || want == model.GenderAny {
		return true
	}
	return want == got
}

func MatchTeam(want, got model.Team) bool {
	if want == "" || want == model.TeamAll {
		return true
	}
	return want == got
}

// Keywords matches task rewards by case-insensitive substring.
type Keywords struct {
	Mode  Mode
	Words []string
}

func NewKeywords(mode Mode, words []string) Keywords {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return Keywords{Mode: mode, Words: out}
}

func (k Keywords) contains(reward string) bool {
	reward = strings.ToLower(reward)
	for _, w := range k.Words {
		if strings.Contains(reward, w) {
			return true
		}
	}
	return false
}

func (k Keywords) Match(reward string) bool {
	hit := k.contains(reward)
	if k.Mode == Exclude {
		return !hit
	}
	return hit || len(k.Words) == 0
}
