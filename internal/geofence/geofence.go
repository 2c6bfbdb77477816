// Package geofence holds named polygon regions and the point-in-polygon test
// used by both the alarm and subscription stages.
package geofence

import (
	"fmt"
	"math"

	"spawnwatch/internal/model"
)

const edgeEpsilon = 1e-12

// Geofence is an implicitly closed polygon: the last vertex connects back to
// the first. Geofences are never mutated after load.
type Geofence struct {
	Name   string
	Points []model.Point
}

func (g *Geofence) Validate() error {
	if g == nil {
		return fmt.Errorf("nil geofence")
	}
	if g.Name == "" {
		return fmt.Errorf("geofence has no name")
	}
	if len(g.Points) < 3 {
		return fmt.Errorf("geofence %q is degenerate: %d vertices", g.Name, len(g.Points))
	}
	return nil
}

// Contains runs an even-odd ray cast. Points lying on an edge or vertex are
// inside. Polygons with fewer than 3 vertices contain nothing.
func Contains(g *Geofence, p model.Point) bool {
	if g == nil || len(g.Points) < 3 {
		return false
	}
	pts := g.Points
	inside := false
	j := len(pts) - 1
	for i := 0; i < len(pts); i++ {
		a, b := pts[i], pts[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// FindContaining returns the first geofence in list order that contains p.
func FindContaining(fences []*Geofence, p model.Point) (*Geofence, bool) {
	for _, g := range fences {
		if Contains(g, p) {
			return g, true
		}
	}
	return nil, false
}

func onSegment(a, b, p model.Point) bool {
	cross := (b.Lng-a.Lng)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lng-a.Lng)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng) && p.Lng <= math.Max(a.Lng, b.Lng) &&
		p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat)
}
