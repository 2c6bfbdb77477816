package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spawnwatch/internal/model"
)

func TestParseCreature(t *testing.T) {
	env := Envelope{Type: "pokemon", Message: json.RawMessage(`{
		"encounter_id": "1234567890123456789",
		"pokemon_id": 1, "form": 0,
		"individual_attack": 15, "individual_defense": 15, "individual_stamina": 6,
		"cp": 700, "pokemon_level": 30, "gender": 2,
		"latitude": 0.5, "longitude": 0.5, "disappear_time": 1800000000}`)}
	ev, err := Parse(env)
	require.NoError(t, err)
	c, ok := ev.(*model.Creature)
	require.True(t, ok)
	assert.Equal(t, "1234567890123456789", c.EncounterID)
	assert.Equal(t, 1, c.SpeciesID)
	assert.InDelta(t, 80.0, c.IV, 0.001)
	assert.Equal(t, 700, c.CP)
	assert.Equal(t, 30, c.Level)
	assert.Equal(t, model.GenderFemale, c.Gender)
	assert.False(t, c.MissingStats)
	assert.Equal(t, time.Unix(1800000000, 0).UTC(), c.DespawnAt)
}

func TestParseCreatureMissingStats(t *testing.T) {
	ev, err := Parse(Envelope{Type: "pokemon", Message: json.RawMessage(`{"encounter_id": 42, "pokemon_id": 16, "latitude": 1, "longitude": 2}`)})
	require.NoError(t, err)
	c := ev.(*model.Creature)
	assert.True(t, c.MissingStats)
	assert.Equal(t, "42", c.EncounterID)
	assert.True(t, c.DespawnAt.IsZero())
}

func TestParseVariants(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		kind model.Kind
	}{
		{"raid", Envelope{Type: "raid", Message: json.RawMessage(`{"gym_id":"g1","gym_name":"Fountain","pokemon_id":0,"level":5,"team_id":2,"latitude":1,"longitude":1,"start":1,"end":2}`)}, model.KindBoss},
		{"quest", Envelope{Type: "quest", Message: json.RawMessage(`{"pokestop_id":"s1","pokestop_name":"Statue","reward":"Stardust","task":"Catch 5","latitude":1,"longitude":1}`)}, model.KindTask},
		{"gym", Envelope{Type: "gym", Message: json.RawMessage(`{"gym_id":"g1","name":"Fountain","team_id":1,"slots_available":3,"latitude":1,"longitude":1}`)}, model.KindVenue},
		{"gym details", Envelope{Type: "gym_details", Message: json.RawMessage(`{"id":"g1","name":"Fountain","team":3,"in_battle":true,"latitude":1,"longitude":1}`)}, model.KindVenueDetail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Parse(tc.env)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ev.Kind())
		})
	}

	ev, _ := Parse(cases[0].env)
	boss := ev.(*model.Boss)
	assert.True(t, boss.IsEgg())
	assert.Equal(t, model.TeamValor, boss.Team)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]Envelope{
		"unknown type":      {Type: "weather", Message: json.RawMessage(`{}`)},
		"empty message":     {Type: "pokemon"},
		"bad json":          {Type: "pokemon", Message: json.RawMessage(`{"pokemon_id": "x"}`)},
		"missing species":   {Type: "pokemon", Message: json.RawMessage(`{"latitude": 1}`)},
		"iv out of range":   {Type: "pokemon", Message: json.RawMessage(`{"pokemon_id": 1, "individual_attack": 16, "individual_defense": 1, "individual_stamina": 1}`)},
		"bad latitude":      {Type: "pokemon", Message: json.RawMessage(`{"pokemon_id": 1, "latitude": 91}`)},
		"raid without gym":  {Type: "raid", Message: json.RawMessage(`{"level": 5}`)},
		"quest sans reward": {Type: "quest", Message: json.RawMessage(`{"pokestop_id": "s"}`)},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(env)
			assert.Error(t, err)
		})
	}
	_, err := Parse(Envelope{Type: "weather", Message: json.RawMessage(`{}`)})
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecodeEnvelopes(t *testing.T) {
	list, err := DecodeEnvelopes([]byte(` [{"type":"pokemon","message":{}},{"type":"raid","message":{}}] `))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = DecodeEnvelopes([]byte(`{"type":"quest","message":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "quest", list[0].Type)

	_, err = DecodeEnvelopes([]byte("  \n"))
	assert.ErrorIs(t, err, ErrEmptyPayload)
	_, err = DecodeEnvelopes([]byte("{"))
	assert.Error(t, err)
}

func TestRESTHandler(t *testing.T) {
	out := make(chan model.Event, 1)
	var rejected []model.Kind
	h := NewRESTHandler(out, 0, func(kind model.Kind, _ error) { rejected = append(rejected, kind) }, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body := `[
		{"type":"pokemon","message":{"pokemon_id":1,"latitude":0.5,"longitude":0.5}},
		{"type":"weather","message":{}},
		{"type":"raid","message":{"gym_id":"g1","level":5,"latitude":99,"longitude":0}},
		{"type":"quest","message":{"pokestop_id":"s1","reward":"stardust","latitude":0.5,"longitude":0.5}}
	]`
	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ingestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, ingestResponse{Accepted: 1, Failed: 2, Dropped: 1}, got)
	assert.Equal(t, []model.Kind{KindUnknown, model.KindBoss}, rejected)
	assert.Equal(t, model.KindCreature, (<-out).Kind())

	bad, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	get, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestKindOf(t *testing.T) {
	for typ, want := range map[string]model.Kind{
		"pokemon":     model.KindCreature,
		"RAID":        model.KindBoss,
		"quest":       model.KindTask,
		"gym":         model.KindVenue,
		"gym_details": model.KindVenueDetail,
		"weather":     KindUnknown,
		"":            KindUnknown,
	} {
		assert.Equal(t, want, KindOf(typ), typ)
	}
}

func TestRESTHandlerBodyLimit(t *testing.T) {
	h := NewRESTHandler(make(chan model.Event, 1), 16, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(strings.Repeat(" ", 64)+"{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestKafkaHandle(t *testing.T) {
	out := make(chan model.Event, 4)
	var rejects []model.Kind
	c := &KafkaConsumer{out: out, onReject: func(kind model.Kind, _ error) { rejects = append(rejects, kind) }}
	c.handle(context.Background(), []byte(`{"type":"gym","message":{"gym_id":"g1","latitude":1,"longitude":1}}`))
	c.handle(context.Background(), []byte(`garbage`))
	c.handle(context.Background(), []byte(`[{"type":"gym","message":{}}]`))
	assert.Len(t, out, 1)
	assert.Equal(t, []model.Kind{KindUnknown, model.KindVenue}, rejects)
}

func TestSendNonBlocking(t *testing.T) {
	out := make(chan model.Event, 1)
	ev := &model.Venue{VenueID: "g"}
	assert.True(t, SendNonBlocking(context.Background(), out, ev, nil))
	assert.False(t, SendNonBlocking(context.Background(), out, ev, nil))
}
