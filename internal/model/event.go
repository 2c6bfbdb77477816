package model

import (
	"fmt"
	"strconv"
	"time"
)

type Kind string

const (
	KindCreature    Kind = "creature"
	KindBoss        Kind = "boss"
	KindTask        Kind = "task"
	KindVenue       Kind = "venue"
	KindVenueDetail Kind = "venue_detail"
)

// Event is the closed set of feed variants. Evaluators dispatch on the
// concrete variant through Accept so adding a variant breaks every Visitor
// until it handles the new case.
type Event interface {
	Kind() Kind
	Location() Point
	// Expires returns the end of the validity window, zero when the event
	// never expires.
	Expires() time.Time
	// Subject is the id statistics are segmented by.
	Subject() string
	// Key identifies the underlying object for duplicate suppression.
	Key() string
	Summary() string
	Accept(v Visitor)
	sealed()
}

type Visitor interface {
	VisitCreature(*Creature)
	VisitBoss(*Boss)
	VisitTask(*Task)
	VisitVenue(*Venue)
	VisitVenueDetail(*VenueDetail)
}

func Expired(ev Event, now time.Time) bool {
	exp := ev.Expires()
	return !exp.IsZero() && now.After(exp)
}

type Creature struct {
	EncounterID  string    `json:"encounter_id"`
	SpeciesID    int       `json:"species_id"`
	FormID       int       `json:"form_id"`
	IV           float64   `json:"iv"`
	CP           int       `json:"cp"`
	Level        int       `json:"level"`
	Gender       Gender    `json:"gender"`
	MissingStats bool      `json:"missing_stats"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	DespawnAt    time.Time `json:"despawn_at"`
}

func (c *Creature) Kind() Kind         { return KindCreature }
func (c *Creature) Location() Point    { return Point{Lat: c.Latitude, Lng: c.Longitude} }
func (c *Creature) Expires() time.Time { return c.DespawnAt }
func (c *Creature) Subject() string    { return strconv.Itoa(c.SpeciesID) }
func (c *Creature) Key() string {
	return fmt.Sprintf("creature|%s|%d|%.1f", c.EncounterID, c.SpeciesID, c.IV)
}
func (c *Creature) Accept(v Visitor) { v.VisitCreature(c) }
func (c *Creature) sealed()          {}

func (c *Creature) Summary() string {
	if c.MissingStats {
		return fmt.Sprintf("Creature #%d (despawns %s)", c.SpeciesID, c.DespawnAt.Format("15:04:05"))
	}
	return fmt.Sprintf("Creature #%d %.1f%% CP%d L%d (despawns %s)",
		c.SpeciesID, c.IV, c.CP, c.Level, c.DespawnAt.Format("15:04:05"))
}

type Boss struct {
	VenueID   string    `json:"venue_id"`
	VenueName string    `json:"venue_name"`
	SpeciesID int       `json:"species_id"`
	FormID    int       `json:"form_id"`
	Level     int       `json:"level"`
	CP        int       `json:"cp"`
	Team      Team      `json:"team"`
	Exclusive bool      `json:"exclusive"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
}

// IsEgg reports whether the boss has not hatched yet.
func (b *Boss) IsEgg() bool { return b.SpeciesID == 0 }

func (b *Boss) MissingStats() bool { return !b.IsEgg() && b.CP == 0 }

func (b *Boss) Kind() Kind         { return KindBoss }
func (b *Boss) Location() Point    { return Point{Lat: b.Latitude, Lng: b.Longitude} }
func (b *Boss) Expires() time.Time { return b.EndAt }
func (b *Boss) Subject() string {
	if b.IsEgg() {
		return "egg" + strconv.Itoa(b.Level)
	}
	return strconv.Itoa(b.SpeciesID)
}
func (b *Boss) Key() string {
	return fmt.Sprintf("boss|%s|%d|%d", b.VenueID, b.SpeciesID, b.EndAt.Unix())
}
func (b *Boss) Accept(v Visitor) { v.VisitBoss(b) }
func (b *Boss) sealed()          {}

func (b *Boss) Summary() string {
	if b.IsEgg() {
		return fmt.Sprintf("Level %d egg at %s (hatches %s)", b.Level, b.VenueName, b.StartAt.Format("15:04:05"))
	}
	return fmt.Sprintf("Boss #%d level %d at %s (ends %s)", b.SpeciesID, b.Level, b.VenueName, b.EndAt.Format("15:04:05"))
}

type Task struct {
	StopID    string    `json:"stop_id"`
	StopName  string    `json:"stop_name"`
	Reward    string    `json:"reward"`
	Condition string    `json:"condition"`
	Text      string    `json:"text"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *Task) Kind() Kind         { return KindTask }
func (t *Task) Location() Point    { return Point{Lat: t.Latitude, Lng: t.Longitude} }
func (t *Task) Expires() time.Time { return t.ExpiresAt }
func (t *Task) Subject() string    { return t.Reward }
func (t *Task) Key() string        { return "task|" + t.StopID + "|" + t.Reward + "|" + t.Text }
func (t *Task) Accept(v Visitor)   { v.VisitTask(t) }
func (t *Task) sealed()            {}

func (t *Task) Summary() string {
	return fmt.Sprintf("%s at %s: %s", t.Reward, t.StopName, t.Text)
}

type Venue struct {
	VenueID   string  `json:"venue_id"`
	Name      string  `json:"name"`
	Team      Team    `json:"team"`
	FreeSlots int     `json:"free_slots"`
	InBattle  bool    `json:"in_battle"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (g *Venue) Kind() Kind         { return KindVenue }
func (g *Venue) Location() Point    { return Point{Lat: g.Latitude, Lng: g.Longitude} }
func (g *Venue) Expires() time.Time { return time.Time{} }
func (g *Venue) Subject() string    { return g.VenueID }
func (g *Venue) Key() string {
	return fmt.Sprintf("venue|%s|%s|%d|%t", g.VenueID, g.Team, g.FreeSlots, g.InBattle)
}
func (g *Venue) Accept(v Visitor) { v.VisitVenue(g) }
func (g *Venue) sealed()          {}

func (g *Venue) Summary() string {
	return fmt.Sprintf("%s now held by %s (%d free slots)", g.Name, g.Team, g.FreeSlots)
}

type VenueDetail struct {
	VenueID   string  `json:"venue_id"`
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	Team      Team    `json:"team"`
	FreeSlots int     `json:"free_slots"`
	InBattle  bool    `json:"in_battle"`
	Exclusive bool    `json:"exclusive"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (d *VenueDetail) Kind() Kind         { return KindVenueDetail }
func (d *VenueDetail) Location() Point    { return Point{Lat: d.Latitude, Lng: d.Longitude} }
func (d *VenueDetail) Expires() time.Time { return time.Time{} }
func (d *VenueDetail) Subject() string    { return d.VenueID }
func (d *VenueDetail) Key() string {
	return fmt.Sprintf("venue_detail|%s|%s|%d|%t", d.VenueID, d.Team, d.FreeSlots, d.InBattle)
}
func (d *VenueDetail) Accept(v Visitor) { v.VisitVenueDetail(d) }
func (d *VenueDetail) sealed()          {}

func (d *VenueDetail) Summary() string {
	state := "idle"
	if d.InBattle {
		state = "under attack"
	}
	return fmt.Sprintf("%s (%s) %s, %d free slots", d.Name, d.Team, state, d.FreeSlots)
}
