package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"spawnwatch/internal/storage"
	"spawnwatch/internal/subscription"
)

func (s *Server) subscriberRoutes(r chi.Router) {
	r.Get("/", s.handleGetSubscriber)
	r.Delete("/", s.handleDeleteSubscriber)
	r.Get("/snoozed", s.handleSnoozed)
	r.Post("/creatures", s.handleAddCreatures)
	r.Delete("/creatures", s.handleRemoveCreatures)
	r.Post("/bosses", s.handleAddBosses)
	r.Delete("/bosses", s.handleRemoveBosses)
	r.Post("/tasks", s.handleAddTask)
	r.Delete("/tasks", s.handleRemoveTask)
	r.Post("/venues", s.handleAddVenue)
	r.Delete("/venues", s.handleRemoveVenue)
	r.Put("/settings", s.handleSettings)
}

type creaturesRequest struct {
	Species  []string `json:"species"`
	MinIV    int      `json:"min_iv"`
	MinLevel int      `json:"min_level"`
	Gender   string   `json:"gender"`
}

type bossesRequest struct {
	Species []string `json:"species"`
	Region  string   `json:"region"`
}

type taskRequest struct {
	Reward string `json:"reward"`
	Region string `json:"region"`
}

type venueRequest struct {
	Name string `json:"name"`
}

// settingsRequest applies only the fields present in the body.
type settingsRequest struct {
	Enabled   *bool    `json:"enabled"`
	AlertTime *string  `json:"alert_time"`
	DistanceM *int     `json:"distance_m"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.deps.Subscriptions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Subscriptions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnoozed(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Subscriptions.SnoozedToday(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("reward"))
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snoozed": items,
		"count":   len(items),
	})
}

func (s *Server) handleAddCreatures(w http.ResponseWriter, r *http.Request) {
	var req creaturesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	creq := subscription.CreatureRequest{MinIV: req.MinIV, MinLevel: req.MinLevel, Gender: req.Gender}
	var (
		res subscription.Result
		err error
	)
	if containsAll(req.Species) {
		res, err = s.deps.Subscriptions.AddAllCreatures(r.Context(), chi.URLParam(r, "id"), creq)
	} else {
		res, err = s.deps.Subscriptions.AddCreatures(r.Context(), chi.URLParam(r, "id"), req.Species, creq)
	}
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRemoveCreatures(w http.ResponseWriter, r *http.Request) {
	species := splitList(r.URL.Query().Get("species"))
	removed, unknown, err := s.deps.Subscriptions.RemoveCreatures(r.Context(), chi.URLParam(r, "id"), species)
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "unknown": unknown})
}

func (s *Server) handleAddBosses(w http.ResponseWriter, r *http.Request) {
	var req bossesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.Subscriptions.AddBosses(r.Context(), chi.URLParam(r, "id"), req.Species, req.Region)
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRemoveBosses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	removed, unknown, err := s.deps.Subscriptions.RemoveBosses(r.Context(), chi.URLParam(r, "id"), splitList(q.Get("species")), q.Get("region"))
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "unknown": unknown})
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	added, err := s.deps.Subscriptions.AddTask(r.Context(), chi.URLParam(r, "id"), req.Reward, req.Region)
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Subscriptions.RemoveTask(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("reward"))
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) handleAddVenue(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	added, err := s.deps.Subscriptions.AddVenue(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (s *Server) handleRemoveVenue(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Subscriptions.RemoveVenue(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("name"))
	if err != nil {
		s.writeSubscriptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	mgr := s.deps.Subscriptions
	if req.AlertTime != nil {
		at, err := subscription.ParseAlertTime(*req.AlertTime)
		if err != nil {
			s.writeSubscriptionError(w, err)
			return
		}
		if err := mgr.SetAlertTime(ctx, id, at); err != nil {
			s.writeSubscriptionError(w, err)
			return
		}
	}
	if req.DistanceM != nil {
		var lat, lng float64
		if req.Latitude != nil {
			lat = *req.Latitude
		}
		if req.Longitude != nil {
			lng = *req.Longitude
		}
		if err := mgr.SetDistance(ctx, id, *req.DistanceM, lat, lng); err != nil {
			s.writeSubscriptionError(w, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := mgr.SetEnabled(ctx, id, *req.Enabled); err != nil {
			s.writeSubscriptionError(w, err)
			return
		}
	}
	sub, ok := mgr.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) writeSubscriptionError(w http.ResponseWriter, err error) {
	switch {
	case subscription.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscriber not found")
	case errors.Is(err, subscription.ErrLimitReached),
		errors.Is(err, subscription.ErrNotPrivileged),
		errors.Is(err, subscription.ErrBelowFloor):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, subscription.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("subscription request failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsAll(list []string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), "all") {
			return true
		}
	}
	return false
}
