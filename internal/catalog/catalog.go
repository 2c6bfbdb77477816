// Package catalog is the species reference table used to validate
// subscription input and to drop events for unknown species.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMax covers the species ids the bulk subscribe command walks.
const DefaultMax = 492

type Catalog struct {
	names  map[int]string
	byName map[string]int
	ids    []int
}

func New(names map[int]string) *Catalog {
	c := &Catalog{names: make(map[int]string, len(names)), byName: make(map[string]int, len(names))}
	for id, name := range names {
		if id <= 0 {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = "#" + strconv.Itoa(id)
		}
		c.names[id] = name
		c.byName[normalize(name)] = id
		c.ids = append(c.ids, id)
	}
	sort.Ints(c.ids)
	return c
}

// Default returns ids 1..max with placeholder names.
func Default(max int) *Catalog {
	if max <= 0 {
		max = DefaultMax
	}
	names := make(map[int]string, max)
	for i := 1; i <= max; i++ {
		names[i] = "#" + strconv.Itoa(i)
	}
	return New(names)
}

// Load reads a JSON or YAML mapping of species id to name.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("catalog file is empty")
	}
	raw := make(map[string]string)
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal([]byte(trimmed), &raw)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	names := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("catalog %s: invalid species id %q", path, k)
		}
		names[id] = v
	}
	return New(names), nil
}

func (c *Catalog) Has(id int) bool {
	_, ok := c.names[id]
	return ok
}

func (c *Catalog) Name(id int) string {
	if name, ok := c.names[id]; ok {
		return name
	}
	return "#" + strconv.Itoa(id)
}

// Resolve accepts a numeric id or a species name.
func (c *Catalog) Resolve(arg string) (int, bool) {
	arg = strings.TrimSpace(arg)
	if id, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil {
		return id, c.Has(id)
	}
	id, ok := c.byName[normalize(arg)]
	return id, ok
}

// IDs returns every known id in ascending order.
func (c *Catalog) IDs() []int {
	return append([]int(nil), c.ids...)
}

func (c *Catalog) Len() int { return len(c.ids) }

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
