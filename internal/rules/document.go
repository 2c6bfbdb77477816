package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spawnwatch/internal/filter"
	"spawnwatch/internal/geofence"
	"spawnwatch/internal/model"
)

// Document is the on-disk alarm configuration.
type Document struct {
	EnableCreatures *bool                 `json:"enable_creatures" yaml:"enable_creatures"`
	EnableBosses    *bool                 `json:"enable_bosses" yaml:"enable_bosses"`
	EnableTasks     *bool                 `json:"enable_tasks" yaml:"enable_tasks"`
	EnableVenues    *bool                 `json:"enable_venues" yaml:"enable_venues"`
	Geofences       []geofence.Definition `json:"geofences" yaml:"geofences"`
	Alarms          []AlarmDoc            `json:"alarms" yaml:"alarms"`
}

type AlarmDoc struct {
	Name      string     `json:"name" yaml:"name"`
	Enabled   *bool      `json:"enabled" yaml:"enabled"`
	Geofences []string   `json:"geofences" yaml:"geofences"`
	Sink      string     `json:"sink" yaml:"sink"`
	Filters   FilterDocs `json:"filters" yaml:"filters"`
}

type FilterDocs struct {
	Creatures    *FilterDoc `json:"creatures" yaml:"creatures"`
	Bosses       *FilterDoc `json:"bosses" yaml:"bosses"`
	Eggs         *FilterDoc `json:"eggs" yaml:"eggs"`
	Tasks        *FilterDoc `json:"tasks" yaml:"tasks"`
	Venues       *FilterDoc `json:"venues" yaml:"venues"`
	VenueDetails *FilterDoc `json:"venue_details" yaml:"venue_details"`
}

// FilterDoc carries every field any variant understands; each variant reads
// the subset that applies to it.
type FilterDoc struct {
	Enabled       *bool    `json:"enabled" yaml:"enabled"`
	Type          string   `json:"type" yaml:"type"`
	IDs           IDList   `json:"ids" yaml:"ids"`
	MinIV         float64  `json:"min_iv" yaml:"min_iv"`
	MaxIV         float64  `json:"max_iv" yaml:"max_iv"`
	MinCP         float64  `json:"min_cp" yaml:"min_cp"`
	MaxCP         float64  `json:"max_cp" yaml:"max_cp"`
	MinLevel      float64  `json:"min_level" yaml:"min_level"`
	MaxLevel      float64  `json:"max_level" yaml:"max_level"`
	Gender        string   `json:"gender" yaml:"gender"`
	Team          string   `json:"team" yaml:"team"`
	OnlyEx        bool     `json:"only_ex" yaml:"only_ex"`
	IgnoreMissing bool     `json:"ignore_missing" yaml:"ignore_missing"`
	Rewards       []string `json:"rewards" yaml:"rewards"`
}

// IDList accepts numeric and string ids alike.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("invalid id %s", string(r))
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

func (l *IDList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: ids must be a list", node.Line)
	}
	out := make(IDList, 0, len(node.Content))
	for _, n := range node.Content {
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: id must be a scalar", n.Line)
		}
		out = append(out, n.Value)
	}
	*l = out
	return nil
}

// ParseDocument decodes YAML or JSON.
func ParseDocument(data []byte) (*Document, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("alarm document is empty")
	}
	doc := &Document{}
	var err error
	if looksLikeJSON(trimmed) {
		err = json.Unmarshal([]byte(trimmed), doc)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), doc)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (d *FilterDoc) ranges() (iv, cp, level filter.Range, err error) {
	iv = filter.Range{Min: d.MinIV, Max: d.MaxIV}
	cp = filter.Range{Min: d.MinCP, Max: d.MaxCP}
	level = filter.Range{Min: d.MinLevel, Max: d.MaxLevel}
	err = errors.Join(iv.Validate("iv"), cp.Validate("cp"), level.Validate("level"))
	return iv, cp, level, err
}

func (d *FilterDoc) speciesIDs() (filter.IDs[int], error) {
	mode, err := filter.ParseMode(d.Type)
	if err != nil {
		return filter.IDs[int]{}, err
	}
	ids := make([]int, 0, len(d.IDs))
	for _, raw := range d.IDs {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || id < 0 {
			return filter.IDs[int]{}, fmt.Errorf("invalid species id %q", raw)
		}
		ids = append(ids, id)
	}
	return filter.NewIDs(mode, ids), nil
}

func (d *FilterDoc) venueIDs() (filter.IDs[string], error) {
	mode, err := filter.ParseMode(d.Type)
	if err != nil {
		return filter.IDs[string]{}, err
	}
	ids := make([]string, 0, len(d.IDs))
	for _, raw := range d.IDs {
		if v := strings.TrimSpace(raw); v != "" {
			ids = append(ids, v, strings.ToLower(v))
		}
	}
	return filter.NewIDs(mode, ids), nil
}

func (d *FilterDoc) team() (model.Team, error) {
	t, ok := model.ParseTeam(d.Team)
	if !ok {
		return "", fmt.Errorf("unknown team %q", d.Team)
	}
	return t, nil
}

func (d *FilterDoc) creatureFilter() (*filter.CreatureFilter, error) {
	ids, err := d.speciesIDs()
	if err != nil {
		return nil, err
	}
	iv, cp, level, err := d.ranges()
	if err != nil {
		return nil, err
	}
	g, ok := model.ParseGender(d.Gender)
	if !ok {
		return nil, fmt.Errorf("unknown gender %q", d.Gender)
	}
	return &filter.CreatureFilter{
		Enabled:       boolOr(d.Enabled, true),
		IDs:           ids,
		IV:            iv,
		CP:            cp,
		Level:         level,
		Gender:        g,
		IgnoreMissing: d.IgnoreMissing,
	}, nil
}

func (d *FilterDoc) bossFilter() (*filter.BossFilter, error) {
	ids, err := d.speciesIDs()
	if err != nil {
		return nil, err
	}
	_, cp, level, err := d.ranges()
	if err != nil {
		return nil, err
	}
	team, err := d.team()
	if err != nil {
		return nil, err
	}
	return &filter.BossFilter{
		Enabled:       boolOr(d.Enabled, true),
		IDs:           ids,
		Level:         level,
		CP:            cp,
		Team:          team,
		OnlyExclusive: d.OnlyEx,
		IgnoreMissing: d.IgnoreMissing,
	}, nil
}

func (d *FilterDoc) eggFilter() (*filter.EggFilter, error) {
	_, _, level, err := d.ranges()
	if err != nil {
		return nil, err
	}
	team, err := d.team()
	if err != nil {
		return nil, err
	}
	return &filter.EggFilter{
		Enabled:       boolOr(d.Enabled, true),
		Level:         level,
		Team:          team,
		OnlyExclusive: d.OnlyEx,
	}, nil
}

func (d *FilterDoc) taskFilter() (*filter.TaskFilter, error) {
	mode, err := filter.ParseMode(d.Type)
	if err != nil {
		return nil, err
	}
	return &filter.TaskFilter{
		Enabled: boolOr(d.Enabled, true),
		Rewards: filter.NewKeywords(mode, d.Rewards),
	}, nil
}

func (d *FilterDoc) venueFilter() (*filter.VenueFilter, error) {
	ids, err := d.venueIDs()
	if err != nil {
		return nil, err
	}
	team, err := d.team()
	if err != nil {
		return nil, err
	}
	return &filter.VenueFilter{Enabled: boolOr(d.Enabled, true), IDs: ids, Team: team}, nil
}

func (d *FilterDoc) venueDetailFilter() (*filter.VenueDetailFilter, error) {
	ids, err := d.venueIDs()
	if err != nil {
		return nil, err
	}
	team, err := d.team()
	if err != nil {
		return nil, err
	}
	return &filter.VenueDetailFilter{
		Enabled:       boolOr(d.Enabled, true),
		IDs:           ids,
		Team:          team,
		OnlyExclusive: d.OnlyEx,
	}, nil
}

func (f FilterDocs) build() (filter.Set, error) {
	var set filter.Set
	var err error
	if f.Creatures != nil {
		if set.Creatures, err = f.Creatures.creatureFilter(); err != nil {
			return set, fmt.Errorf("creatures: %w", err)
		}
	}
	if f.Bosses != nil {
		if set.Bosses, err = f.Bosses.bossFilter(); err != nil {
			return set, fmt.Errorf("bosses: %w", err)
		}
	}
	if f.Eggs != nil {
		if set.Eggs, err = f.Eggs.eggFilter(); err != nil {
			return set, fmt.Errorf("eggs: %w", err)
		}
	}
	if f.Tasks != nil {
		if set.Tasks, err = f.Tasks.taskFilter(); err != nil {
			return set, fmt.Errorf("tasks: %w", err)
		}
	}
	if f.Venues != nil {
		if set.Venues, err = f.Venues.venueFilter(); err != nil {
			return set, fmt.Errorf("venues: %w", err)
		}
	}
	if f.VenueDetails != nil {
		if set.VenueDetails, err = f.VenueDetails.venueDetailFilter(); err != nil {
			return set, fmt.Errorf("venue_details: %w", err)
		}
	}
	return set, nil
}
