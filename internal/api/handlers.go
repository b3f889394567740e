package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"quotad/internal/cluster"
	"quotad/internal/dispatch"
	"quotad/internal/journal"
	"quotad/internal/models"
	"quotad/internal/registry"
	"quotad/internal/supervisor"
	"quotad/internal/version"
)

// ClusterView is the membership surface the handlers read. Members returns
// live nodes, View includes dead seeds with their liveness flag, and
// ObserveHeartbeat feeds incoming heartbeats back into failure detection.
type ClusterView interface {
	Self() cluster.Node
	View() map[cluster.Node]bool
	ObserveHeartbeat(from cluster.Node, protocolVersion string) error
}

// EventSource reads recent ownership journal entries. May be nil when the
// journal is disabled.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
}

// Handlers contains the HTTP handlers for the public and cluster APIs.
type Handlers struct {
	checker    dispatch.Checker
	membership ClusterView
	reg        *registry.Registry
	sup        *supervisor.Supervisor
	events     EventSource
	started    time.Time
}

// NewHandlers creates a new handlers instance.
func NewHandlers(checker dispatch.Checker, membership ClusterView, reg *registry.Registry, sup *supervisor.Supervisor, events EventSource) *Handlers {
	return &Handlers{
		checker:    checker,
		membership: membership,
		reg:        reg,
		sup:        sup,
		events:     events,
		started:    time.Now(),
	}
}

type checkRequest struct {
	Key string `json:"key"`
}

// Check handles quota check requests.
// POST /api/v1/check with {"key": "..."} or GET /api/v1/check?key=...
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var key string
	switch r.Method {
	case http.MethodPost:
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
			return
		}
		key = req.Key
	default:
		key = r.URL.Query().Get("key")
	}

	if key == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "key is required")
		return
	}

	res := h.checker.Check(r.Context(), key)

	response := &models.CheckResponse{
		Result:    string(res.Outcome),
		Key:       key,
		Count:     res.Count,
		Remaining: res.Remaining,
		WindowID:  res.WindowID,
		OwnerNode: res.OwnerID,
	}

	switch res.Outcome {
	case dispatch.Allowed:
		h.writeJSONResponse(w, http.StatusOK, response)
	case dispatch.Denied:
		h.writeJSONResponse(w, http.StatusTooManyRequests, response)
	default:
		h.writeJSONResponse(w, http.StatusServiceUnavailable, response)
	}
}

// Status reports this node's view of the cluster.
// GET /api/v1/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	view := h.membership.View()
	members := make([]models.MemberInfo, 0, len(view))
	for node, alive := range view {
		members = append(members, models.MemberInfo{ID: node.ID, Addr: node.Addr, Alive: alive})
	}
	sortMembers(members)

	response := &models.StatusResponse{
		NodeID:    h.membership.Self().ID,
		Members:   members,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}

	if handle, ok := h.reg.Lookup(h.sup.Name()); ok {
		response.Owner = &models.OwnerInfo{
			Name:        handle.Name,
			NodeID:      handle.Owner.ID,
			Addr:        handle.Owner.Addr,
			Incarnation: handle.Incarnation,
		}
	}

	if store, _, ok := h.sup.Local(); ok {
		win := store.Window()
		response.LocalWindow = &models.WindowInfo{
			ID:        win.ID,
			StartedAt: win.StartedAt,
			Keys:      win.Keys,
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Events lists recent ownership journal entries.
// GET /api/v1/events
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	response := &models.EventsResponse{Events: []models.EventInfo{}}

	if h.events != nil {
		entries, err := h.events.Recent(r.Context(), 100)
		if err != nil {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to read journal")
			return
		}
		for _, e := range entries {
			response.Events = append(response.Events, models.EventInfo{
				Time:        e.Time,
				Kind:        e.Kind,
				NodeID:      e.NodeID,
				Incarnation: e.Incarnation,
				Detail:      e.Detail,
			})
		}
	}
	response.Count = len(response.Events)

	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := &models.HealthCheckResponse{
		Status:    models.StatusHealthy,
		Timestamp: time.Now(),
		Version:   version.GetInfo().Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing useful left to send.
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// writeErrorResponse writes an error response.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func sortMembers(members []models.MemberInfo) {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
}
