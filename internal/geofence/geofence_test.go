package geofence

import (
	"os"
	"path/filepath"
	"testing"

	"spawnwatch/internal/model"
)

func square(name string, lat, lng, size float64) *Geofence {
	return &Geofence{Name: name, Points: []model.Point{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + size},
		{Lat: lat + size, Lng: lng + size},
		{Lat: lat + size, Lng: lng},
	}}
}

func TestContainsInsideOutside(t *testing.T) {
	g := square("downtown", 10, 10, 1)
	if !Contains(g, model.Point{Lat: 10.5, Lng: 10.5}) {
		t.Fatalf("expected center to be inside")
	}
	for _, p := range []model.Point{
		{Lat: 9.9, Lng: 10.5},
		{Lat: 11.1, Lng: 10.5},
		{Lat: 10.5, Lng: 9.9},
		{Lat: 10.5, Lng: 11.1},
		{Lat: 50, Lng: 50},
	} {
		if Contains(g, p) {
			t.Fatalf("expected %v outside", p)
		}
	}
}

func TestContainsBoundaryIsInsideAndStable(t *testing.T) {
	g := square("downtown", 0, 0, 1)
	boundary := []model.Point{
		{Lat: 0, Lng: 0},
		{Lat: 1, Lng: 1},
		{Lat: 0, Lng: 0.5},
		{Lat: 0.5, Lng: 1},
	}
	for _, p := range boundary {
		for i := 0; i < 3; i++ {
			if !Contains(g, p) {
				t.Fatalf("boundary point %v should be inside (call %d)", p, i)
			}
		}
	}
}

func TestContainsConcave(t *testing.T) {
	// U shape opening north; the notch is outside.
	g := &Geofence{Name: "u", Points: []model.Point{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 3}, {Lat: 3, Lng: 3}, {Lat: 3, Lng: 2},
		{Lat: 1, Lng: 2}, {Lat: 1, Lng: 1}, {Lat: 3, Lng: 1}, {Lat: 3, Lng: 0},
	}}
	if Contains(g, model.Point{Lat: 2, Lng: 1.5}) {
		t.Fatalf("notch should be outside")
	}
	if !Contains(g, model.Point{Lat: 2, Lng: 0.5}) {
		t.Fatalf("left arm should be inside")
	}
}

func TestContainsDegenerate(t *testing.T) {
	if Contains(nil, model.Point{}) {
		t.Fatalf("nil geofence contains nothing")
	}
	g := &Geofence{Name: "line", Points: []model.Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}}
	if Contains(g, model.Point{Lat: 0.5, Lng: 0.5}) {
		t.Fatalf("two-vertex polygon contains nothing")
	}
	if err := g.Validate(); err == nil {
		t.Fatalf("expected degenerate validation error")
	}
}

func TestFindContainingFirstWins(t *testing.T) {
	a := square("a", 0, 0, 2)
	b := square("b", 0, 0, 1)
	got, ok := FindContaining([]*Geofence{a, b}, model.Point{Lat: 0.5, Lng: 0.5})
	if !ok || got.Name != "a" {
		t.Fatalf("expected first geofence a, got %v", got)
	}
	got, ok = FindContaining([]*Geofence{b, a}, model.Point{Lat: 0.5, Lng: 0.5})
	if !ok || got.Name != "b" {
		t.Fatalf("expected first geofence b, got %v", got)
	}
	if _, ok := FindContaining([]*Geofence{a, b}, model.Point{Lat: 5, Lng: 5}); ok {
		t.Fatalf("expected no geofence")
	}
}

func TestParseText(t *testing.T) {
	content := `
# city regions
[North]
1,1
1,2
2,2
[South]
-1,-1
-1,-2
-2,-2
`
	fences, err := ParseText(content, "file")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fences) != 2 || fences[0].Name != "North" || fences[1].Name != "South" {
		t.Fatalf("unexpected fences: %+v", fences)
	}
	if _, err := ParseText("[Bad]\n1,1\n2,2\n", "file"); err == nil {
		t.Fatalf("expected degenerate error")
	}
	if _, err := ParseText("[Bad]\n1;1\n", "file"); err == nil {
		t.Fatalf("expected coordinate error")
	}
}

func TestLoadFileStructured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regions.yaml")
	doc := "- name: Harbor\n  points: [[0,0],[0,1],[1,1],[1,0]]\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	fences, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(fences) != 1 || fences[0].Name != "Harbor" || len(fences[0].Points) != 4 {
		t.Fatalf("unexpected fences: %+v", fences)
	}

	txt := filepath.Join(dir, "park.txt")
	if err := os.WriteFile(txt, []byte("0,0\n0,1\n1,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fences, err = LoadFile(txt)
	if err != nil {
		t.Fatalf("load txt: %v", err)
	}
	if fences[0].Name != "park" {
		t.Fatalf("expected default name from file, got %q", fences[0].Name)
	}
}

func TestDistance(t *testing.T) {
	a := model.Point{Lat: 0, Lng: 0}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
	// One degree of latitude is roughly 111.2 km.
	d := Distance(a, model.Point{Lat: 1, Lng: 0})
	if d < 111000 || d > 111400 {
		t.Fatalf("unexpected distance %v", d)
	}
}
