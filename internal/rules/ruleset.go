// Package rules holds the alarm rule configuration and swaps it atomically
// when the source documents change.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spawnwatch/internal/filter"
	"spawnwatch/internal/geofence"
	"spawnwatch/internal/model"
)

type Flags struct {
	Creatures bool
	Bosses    bool
	Tasks     bool
	Venues    bool
}

// Enabled reports the global switch for an event kind. Venue details share
// the venue switch.
func (f Flags) Enabled(kind model.Kind) bool {
	switch kind {
	case model.KindCreature:
		return f.Creatures
	case model.KindBoss:
		return f.Bosses
	case model.KindTask:
		return f.Tasks
	case model.KindVenue, model.KindVenueDetail:
		return f.Venues
	}
	return false
}

type Rule struct {
	Name      string
	Enabled   bool
	Geofences []*geofence.Geofence
	Sink      string
	Filters   filter.Set
}

// RuleSet is an immutable snapshot. Callers must not modify it after it has
// been handed to a Store.
type RuleSet struct {
	Version  uint64
	LoadedAt time.Time
	Source   string
	Flags    Flags
	Rules    []*Rule
	// Geofences is the ordered union of every region referenced by a rule
	// or declared inline.
	Geofences []*geofence.Geofence
	// Files lists every file the set was built from.
	Files []string
}

func (rs *RuleSet) Geofence(name string) (*geofence.Geofence, bool) {
	for _, g := range rs.Geofences {
		if strings.EqualFold(g.Name, name) {
			return g, true
		}
	}
	return nil, false
}

// Load reads an alarm document and every region file it references. Region
// paths are resolved relative to the document.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	rs, err := Build(doc, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	rs.Source = abs
	rs.Files = append([]string{abs}, rs.Files...)
	return rs, nil
}

// Build resolves a decoded document. baseDir anchors relative region paths.
func Build(doc *Document, baseDir string) (*RuleSet, error) {
	rs := &RuleSet{
		LoadedAt: time.Now().UTC(),
		Flags: Flags{
			Creatures: boolOr(doc.EnableCreatures, true),
			Bosses:    boolOr(doc.EnableBosses, true),
			Tasks:     boolOr(doc.EnableTasks, true),
			Venues:    boolOr(doc.EnableVenues, true),
		},
	}
	inline := make(map[string]*geofence.Geofence, len(doc.Geofences))
	for i, d := range doc.Geofences {
		g, err := d.Geofence()
		if err != nil {
			return nil, fmt.Errorf("geofences[%d]: %w", i, err)
		}
		key := strings.ToLower(g.Name)
		if _, dup := inline[key]; dup {
			return nil, fmt.Errorf("geofences[%d]: duplicate name %q", i, g.Name)
		}
		inline[key] = g
		rs.addGeofence(g)
	}

	files := make(map[string][]*geofence.Geofence)
	names := make(map[string]struct{}, len(doc.Alarms))
	for i, a := range doc.Alarms {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = fmt.Sprintf("alarm-%d", i+1)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("alarms[%d]: duplicate name %q", i, name)
		}
		names[name] = struct{}{}

		rule := &Rule{Name: name, Enabled: boolOr(a.Enabled, true), Sink: strings.TrimSpace(a.Sink)}
		if rule.Sink == "" {
			return nil, fmt.Errorf("alarm %q: sink is required", name)
		}
		for _, ref := range a.Geofences {
			fences, err := rs.resolve(ref, baseDir, inline, files)
			if err != nil {
				return nil, fmt.Errorf("alarm %q: %w", name, err)
			}
			rule.Geofences = append(rule.Geofences, fences...)
		}
		set, err := a.Filters.build()
		if err != nil {
			return nil, fmt.Errorf("alarm %q: %w", name, err)
		}
		rule.Filters = set
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func (rs *RuleSet) resolve(ref, baseDir string, inline map[string]*geofence.Geofence, files map[string][]*geofence.Geofence) ([]*geofence.Geofence, error) {
	ref = strings.TrimSpace(ref)
	if g, ok := inline[strings.ToLower(ref)]; ok {
		return []*geofence.Geofence{g}, nil
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	if fences, ok := files[path]; ok {
		return fences, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("geofence %q is neither an inline region nor a readable file", ref)
	}
	fences, err := geofence.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geofence file %s: %w", ref, err)
	}
	files[path] = fences
	rs.Files = append(rs.Files, path)
	for _, g := range fences {
		rs.addGeofence(g)
	}
	return fences, nil
}

func (rs *RuleSet) addGeofence(g *geofence.Geofence) {
	for _, existing := range rs.Geofences {
		if existing == g {
			return
		}
	}
	rs.Geofences = append(rs.Geofences, g)
}
