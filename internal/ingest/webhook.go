package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"spawnwatch/internal/model"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrUnknownType  = errors.New("unknown webhook type")
)

// Envelope is one webhook object as posted by the scanner feed.
type Envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// KindUnknown labels envelopes whose type is not a known webhook type.
const KindUnknown model.Kind = "unknown"

var webhookKinds = map[string]model.Kind{
	"pokemon":     model.KindCreature,
	"raid":        model.KindBoss,
	"quest":       model.KindTask,
	"gym":         model.KindVenue,
	"gym_details": model.KindVenueDetail,
}

// KindOf maps a webhook type name to the event kind it produces.
func KindOf(webhookType string) model.Kind {
	if k, ok := webhookKinds[strings.ToLower(strings.TrimSpace(webhookType))]; ok {
		return k
	}
	return KindUnknown
}

// DecodeEnvelopes accepts a single envelope or a JSON array of them.
func DecodeEnvelopes(data []byte) ([]Envelope, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, ErrEmptyPayload
	}
	if trim[0] == '[' {
		var list []Envelope
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, fmt.Errorf("decode webhook batch: %w", err)
		}
		return list, nil
	}
	var env Envelope
	if err := json.Unmarshal(trim, &env); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return []Envelope{env}, nil
}

// Parse converts one envelope into an event. A malformed message is
// rejected whole.
func Parse(env Envelope) (model.Event, error) {
	if len(env.Message) == 0 {
		return nil, fmt.Errorf("%s: %w", env.Type, ErrEmptyPayload)
	}
	var (
		ev  model.Event
		err error
	)
	switch strings.ToLower(env.Type) {
	case "pokemon":
		ev, err = parseCreature(env.Message)
	case "raid":
		ev, err = parseBoss(env.Message)
	case "quest":
		ev, err = parseTask(env.Message)
	case "gym":
		ev, err = parseVenue(env.Message)
	case "gym_details":
		ev, err = parseVenueDetail(env.Message)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s webhook: %w", env.Type, err)
	}
	if err := validLocation(ev.Location()); err != nil {
		return nil, fmt.Errorf("parse %s webhook: %w", env.Type, err)
	}
	return ev, nil
}

type creatureMessage struct {
	EncounterID      flexID  `json:"encounter_id"`
	PokemonID        int     `json:"pokemon_id"`
	Form             int     `json:"form"`
	IndividualAttack *int    `json:"individual_attack"`
	IndividualDef    *int    `json:"individual_defense"`
	IndividualStam   *int    `json:"individual_stamina"`
	CP               *int    `json:"cp"`
	Level            *int    `json:"pokemon_level"`
	Gender           int     `json:"gender"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	DisappearTime    int64   `json:"disappear_time"`
}

func parseCreature(raw json.RawMessage) (*model.Creature, error) {
	var m creatureMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.PokemonID <= 0 {
		return nil, errors.New("missing pokemon_id")
	}
	c := &model.Creature{
		EncounterID: string(m.EncounterID),
		SpeciesID:   m.PokemonID,
		FormID:      m.Form,
		Gender:      genderFromID(m.Gender),
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		DespawnAt:   unixTime(m.DisappearTime),
	}
	if m.IndividualAttack == nil || m.IndividualDef == nil || m.IndividualStam == nil {
		c.MissingStats = true
	} else {
		iv, err := ivPercent(*m.IndividualAttack, *m.IndividualDef, *m.IndividualStam)
		if err != nil {
			return nil, err
		}
		c.IV = iv
	}
	if m.CP != nil {
		c.CP = *m.CP
	}
	if m.Level != nil {
		c.Level = *m.Level
	}
	return c, nil
}

type bossMessage struct {
	GymID          string  `json:"gym_id"`
	GymName        string  `json:"gym_name"`
	PokemonID      int     `json:"pokemon_id"`
	Form           int     `json:"form"`
	Level          int     `json:"level"`
	CP             int     `json:"cp"`
	TeamID         int     `json:"team_id"`
	ExRaidEligible bool    `json:"ex_raid_eligible"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Start          int64   `json:"start"`
	End            int64   `json:"end"`
}

func parseBoss(raw json.RawMessage) (*model.Boss, error) {
	var m bossMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.GymID == "" {
		return nil, errors.New("missing gym_id")
	}
	if m.Level <= 0 {
		return nil, errors.New("missing level")
	}
	if m.PokemonID < 0 {
		return nil, fmt.Errorf("invalid pokemon_id %d", m.PokemonID)
	}
	return &model.Boss{
		VenueID:   m.GymID,
		VenueName: m.GymName,
		SpeciesID: m.PokemonID,
		FormID:    m.Form,
		Level:     m.Level,
		CP:        m.CP,
		Team:      model.TeamFromID(m.TeamID),
		Exclusive: m.ExRaidEligible,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		StartAt:   unixTime(m.Start),
		EndAt:     unixTime(m.End),
	}, nil
}

type taskMessage struct {
	PokestopID   string  `json:"pokestop_id"`
	PokestopName string  `json:"pokestop_name"`
	Reward       string  `json:"reward"`
	Conditions   string  `json:"conditions"`
	Task         string  `json:"task"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Expiration   int64   `json:"expiration"`
}

func parseTask(raw json.RawMessage) (*model.Task, error) {
	var m taskMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.PokestopID == "" {
		return nil, errors.New("missing pokestop_id")
	}
	if strings.TrimSpace(m.Reward) == "" {
		return nil, errors.New("missing reward")
	}
	return &model.Task{
		StopID:    m.PokestopID,
		StopName:  m.PokestopName,
		Reward:    strings.TrimSpace(m.Reward),
		Condition: m.Conditions,
		Text:      m.Task,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		ExpiresAt: unixTime(m.Expiration),
	}, nil
}

type venueMessage struct {
	GymID          string  `json:"gym_id"`
	Name           string  `json:"name"`
	TeamID         int     `json:"team_id"`
	SlotsAvailable int     `json:"slots_available"`
	IsInBattle     bool    `json:"is_in_battle"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

func parseVenue(raw json.RawMessage) (*model.Venue, error) {
	var m venueMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.GymID == "" {
		return nil, errors.New("missing gym_id")
	}
	return &model.Venue{
		VenueID:   m.GymID,
		Name:      m.Name,
		Team:      model.TeamFromID(m.TeamID),
		FreeSlots: m.SlotsAvailable,
		InBattle:  m.IsInBattle,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
	}, nil
}

type venueDetailMessage struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	Team           int     `json:"team"`
	SlotsAvailable int     `json:"slots_available"`
	InBattle       bool    `json:"in_battle"`
	ExRaidEligible bool    `json:"ex_raid_eligible"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

func parseVenueDetail(raw json.RawMessage) (*model.VenueDetail, error) {
	var m venueDetailMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, errors.New("missing id")
	}
	return &model.VenueDetail{
		VenueID:   m.ID,
		Name:      m.Name,
		URL:       m.URL,
		Team:      model.TeamFromID(m.Team),
		FreeSlots: m.SlotsAvailable,
		InBattle:  m.InBattle,
		Exclusive: m.ExRaidEligible,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
	}, nil
}

// flexID accepts an id sent either as a JSON string or a bare number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexID(b)
	return nil
}

func ivPercent(atk, def, sta int) (float64, error) {
	for _, v := range []int{atk, def, sta} {
		if v < 0 || v > 15 {
			return 0, fmt.Errorf("individual value %d out of range", v)
		}
	}
	iv := float64(atk+def+sta) / 45 * 100
	return math.Round(iv*10) / 10, nil
}

func genderFromID(id int) model.Gender {
	g, ok := model.ParseGender(strconv.Itoa(id))
	if !ok {
		return model.GenderAny
	}
	return g
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func validLocation(p model.Point) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("invalid coordinate %v,%v", p.Lat, p.Lng)
	}
	return nil
}
