package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spawnwatch/internal/catalog"
	"spawnwatch/internal/config"
	"spawnwatch/internal/history"
	"spawnwatch/internal/model"
	"spawnwatch/internal/queue"
	"spawnwatch/internal/rules"
	"spawnwatch/internal/stats"
	"spawnwatch/internal/storage"
	"spawnwatch/internal/subscription"
)

const alarmsYAML = `
geofences:
  - name: Downtown
    points: [[0,0],[0,1],[1,1],[1,0]]
alarms:
  - name: R1
    geofences: [Downtown]
    sink: log
`

type fakeEngine struct{ resets int }

func (f *fakeEngine) Reset()             { f.resets++ }
func (f *fakeEngine) Started() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

type fakeQueue struct{}

func (fakeQueue) Stats() queue.Stats { return queue.Stats{Pending: 3, Enqueued: 10, Delivered: 7} }

type fixture struct {
	srv      *httptest.Server
	rulesDir string
	engine   *fakeEngine
	history  *history.Store
	subs     *subscription.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "alarms.yaml")
	if err := os.WriteFile(path, []byte(alarmsYAML), 0o644); err != nil {
		t.Fatalf("write alarms: %v", err)
	}
	ruleStore := rules.NewStore(path, nil)
	if err := ruleStore.Open(); err != nil {
		t.Fatalf("open rules: %v", err)
	}

	cfg := config.DefaultConfig().Subscriptions
	cfg.Enabled = true
	access := subscription.NewStaticAccess(config.AccessConfig{Supporters: []string{"alice"}})
	mgr := subscription.NewManager(cfg, storage.NewMemory(), catalog.Default(catalog.DefaultMax), access, nil, time.UTC, nil)

	st := stats.NewStore(100)
	st.RecordMatch(model.SourceAlarm, model.KindCreature, "1")

	hist := history.NewStore(10)
	hist.Observe(model.DeliveryItem{ID: "d1", Recipient: "log"}, nil)
	hist.Observe(model.DeliveryItem{ID: "d2", Recipient: "alice"}, nil)

	f := &fixture{rulesDir: dir, engine: &fakeEngine{}, history: hist, subs: mgr}
	s := New(":0", Deps{
		Rules:         ruleStore,
		Engine:        f.engine,
		Queue:         fakeQueue{},
		Stats:         st,
		History:       hist,
		Subscriptions: mgr,
	}, nil, "test")
	f.srv = httptest.NewServer(s.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/status", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	rs := body["rules"].(map[string]any)
	if rs["version"].(float64) != 1 || rs["rules"].(float64) != 1 {
		t.Fatalf("unexpected rules status %+v", rs)
	}
	if body["queue"].(map[string]any)["pending"].(float64) != 3 {
		t.Fatalf("unexpected queue status %+v", body["queue"])
	}
}

func TestStatsAndDeliveries(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/stats?top=5", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if top := body["top"].([]any); len(top) != 1 {
		t.Fatalf("expected 1 top subject, got %d", len(top))
	}
	if code, _ := f.do(t, http.MethodGet, "/stats?top=x", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad top, got %d", code)
	}

	_, body = f.do(t, http.MethodGet, "/deliveries", "")
	if body["count"].(float64) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", body["count"])
	}
	_, body = f.do(t, http.MethodGet, "/deliveries?recipient=alice", "")
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 delivery for alice, got %v", body["count"])
	}
	if code, _ := f.do(t, http.MethodGet, "/deliveries?since=yesterday", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", code)
	}
}

func TestAdminReload(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/admin/reload", "")
	if code != http.StatusOK || body["version"].(float64) != 2 {
		t.Fatalf("expected reload to version 2, got %d %+v", code, body)
	}

	if err := os.WriteFile(filepath.Join(f.rulesDir, "alarms.yaml"), []byte("alarms: [{name: x, geofences: [Nowhere], sink: log}]"), 0o644); err != nil {
		t.Fatalf("write alarms: %v", err)
	}
	code, _ = f.do(t, http.MethodPost, "/admin/reload", "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a broken rule file, got %d", code)
	}
	_, body = f.do(t, http.MethodGet, "/status", "")
	if v := body["rules"].(map[string]any)["version"].(float64); v != 2 {
		t.Fatalf("expected previous rules to stay active, got version %v", v)
	}

	if code, _ := f.do(t, http.MethodPost, "/admin/reset", ""); code != http.StatusOK || f.engine.resets != 1 {
		t.Fatalf("expected reset to reach the engine, got %d resets=%d", code, f.engine.resets)
	}
}

func TestSubscriberLifecycle(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/subscribers/alice/creatures", `{"species":["1","nope"],"min_iv":90}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", code, body)
	}
	if added := body["added"].([]any); len(added) != 1 || added[0].(float64) != 1 {
		t.Fatalf("unexpected added %+v", body["added"])
	}
	if unknown := body["unknown"].([]any); len(unknown) != 1 {
		t.Fatalf("unexpected unknown %+v", body["unknown"])
	}

	if code, _ := f.do(t, http.MethodPost, "/subscribers/alice/creatures", `{"species":["1"],"min_iv":101}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid iv, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/subscribers/bob/creatures", `{"species":["all"],"min_iv":90}`); code != http.StatusForbidden {
		t.Fatalf("expected 403 for bulk add without privilege, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/subscribers/alice/creatures", `not json`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", code)
	}

	code, body = f.do(t, http.MethodPut, "/subscribers/alice/settings", `{"alert_time":"09:30","enabled":false}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", code, body)
	}
	if body["enabled"].(bool) {
		t.Fatal("expected subscriber to be disabled")
	}

	code, body = f.do(t, http.MethodGet, "/subscribers/alice", "")
	if code != http.StatusOK || body["subscriber_id"] != "alice" {
		t.Fatalf("unexpected subscriber %d %+v", code, body)
	}

	if err := f.subs.RecordSnoozed(context.Background(), model.SnoozedItem{SubscriberID: "alice", Day: model.DayBucket(time.Now().UTC()), Reward: "Stardust"}); err != nil {
		t.Fatalf("record snoozed: %v", err)
	}
	_, body = f.do(t, http.MethodGet, "/subscribers/alice/snoozed?reward=star", "")
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 snoozed item, got %v", body["count"])
	}
	if code, _ := f.do(t, http.MethodGet, "/subscribers/nobody/snoozed", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown subscriber, got %d", code)
	}

	code, body = f.do(t, http.MethodDelete, "/subscribers/alice/creatures?species=1", "")
	if code != http.StatusOK || len(body["removed"].([]any)) != 1 {
		t.Fatalf("unexpected remove result %d %+v", code, body)
	}
	if code, _ := f.do(t, http.MethodDelete, "/subscribers/alice", ""); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/subscribers/alice", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func TestTasksAndVenues(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/subscribers/alice/tasks", `{"reward":"stardust"}`)
	if code != http.StatusOK || body["added"] != true {
		t.Fatalf("unexpected task add %d %+v", code, body)
	}
	code, body = f.do(t, http.MethodPost, "/subscribers/alice/venues", `{"name":"Fountain"}`)
	if code != http.StatusOK || body["added"] != true {
		t.Fatalf("unexpected venue add %d %+v", code, body)
	}
	_, body = f.do(t, http.MethodDelete, "/subscribers/alice/tasks?reward=stardust", "")
	if body["removed"].(float64) != 1 {
		t.Fatalf("expected 1 task removed, got %v", body["removed"])
	}
	_, body = f.do(t, http.MethodDelete, "/subscribers/alice/venues?name=fountain", "")
	if body["removed"].(float64) != 1 {
		t.Fatalf("expected 1 venue removed, got %v", body["removed"])
	}
}
