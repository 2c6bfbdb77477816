package geofence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spawnwatch/internal/model"
)

// Definition is the structured (JSON/YAML) form of a region.
type Definition struct {
	Name   string      `json:"name" yaml:"name"`
	Points [][]float64 `json:"points" yaml:"points"`
}

func (d Definition) Geofence() (*Geofence, error) {
	g := &Geofence{Name: strings.TrimSpace(d.Name), Points: make([]model.Point, 0, len(d.Points))}
	for i, p := range d.Points {
		if len(p) != 2 {
			return nil, fmt.Errorf("geofence %q: point %d needs [lat, lng]", g.Name, i)
		}
		g.Points = append(g.Points, model.Point{Lat: p[0], Lng: p[1]})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadFile reads a region document. ".json", ".yaml" and ".yml" files hold a
// list of definitions (or a single one); anything else is read as the text
// format of "[Name]" headers followed by "lat,lng" lines.
func LoadFile(path string) ([]*Geofence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return ParseStructured(data)
	default:
		return ParseText(string(data), base)
	}
}

func ParseStructured(data []byte) ([]*Geofence, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("geofence document is empty")
	}
	var defs []Definition
	if strings.HasPrefix(trimmed, "{") {
		var one Definition
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, err
		}
		defs = []Definition{one}
	} else if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &defs); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal([]byte(trimmed), &defs); err != nil {
		var one Definition
		if err2 := yaml.Unmarshal([]byte(trimmed), &one); err2 != nil {
			return nil, err
		}
		defs = []Definition{one}
	}
	out := make([]*Geofence, 0, len(defs))
	for _, d := range defs {
		g, err := d.Geofence()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// ParseText reads the header/coordinate format. Coordinates before the first
// header belong to a region named defaultName.
func ParseText(content, defaultName string) ([]*Geofence, error) {
	var out []*Geofence
	var cur *Geofence
	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := cur.Validate(); err != nil {
			return err
		}
		out = append(out, cur)
		cur = nil
		return nil
	}
	sc := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := flush(); err != nil {
				return nil, err
			}
			cur = &Geofence{Name: strings.TrimSpace(line[1 : len(line)-1])}
			continue
		}
		if cur == nil {
			cur = &Geofence{Name: defaultName}
		}
		p, err := parsePoint(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		cur.Points = append(cur.Points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("geofence document has no regions")
	}
	return out, nil
}

func parsePoint(line string) (model.Point, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return model.Point{}, fmt.Errorf("invalid coordinate %q", line)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return model.Point{}, fmt.Errorf("invalid latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.Point{}, fmt.Errorf("invalid longitude %q", parts[1])
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return model.Point{}, fmt.Errorf("coordinate out of range %q", line)
	}
	return model.Point{Lat: lat, Lng: lng}, nil
}
