package model

import (
	"strings"
	"time"
)

type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

type Gender string

const (
	GenderAny        Gender = "*"
	GenderMale       Gender = "m"
	GenderFemale     Gender = "f"
	GenderGenderless Gender = "u"
)

// ParseGender accepts the letter form used by subscribers and the numeric
// form used by the webhook feed.
func ParseGender(v string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "*", "any", "all":
		return GenderAny, true
	case "m", "male", "1":
		return GenderMale, true
	case "f", "female", "2":
		return GenderFemale, true
	case "u", "genderless", "3":
		return GenderGenderless, true
	}
	return "", false
}

type Team string

const (
	TeamAll      Team = "all"
	TeamNeutral  Team = "neutral"
	TeamMystic   Team = "mystic"
	TeamValor    Team = "valor"
	TeamInstinct Team = "instinct"
)

func TeamFromID(id int) Team {
	switch id {
	case 1:
		return TeamMystic
	case 2:
		return TeamValor
	case 3:
		return TeamInstinct
	}
	return TeamNeutral
}

func ParseTeam(v string) (Team, bool) {
	switch Team(strings.ToLower(strings.TrimSpace(v))) {
	case "", TeamAll:
		return TeamAll, true
	case TeamNeutral:
		return TeamNeutral, true
	case TeamMystic:
		return TeamMystic, true
	case TeamValor:
		return TeamValor, true
	case TeamInstinct:
		return TeamInstinct, true
	}
	return "", false
}

// DayBucket truncates t to its calendar day in t's location.
func DayBucket(t time.Time) string {
	return t.Format("2006-01-02")
}
