package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"quotad/internal/cluster"
	"quotad/internal/models"
	"quotad/internal/transport"
	"quotad/internal/version"
)

// Increment serves counter increments from peer dispatchers.
// POST /cluster/v1/increment
//
// A node that does not currently run the singleton answers 409 so the caller
// can re-resolve the owner; answering with a fabricated verdict here would
// silently split the counter.
func (h *Handlers) Increment(w http.ResponseWriter, r *http.Request) {
	var req transport.IncrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Operation != transport.OpIncrement {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "unsupported operation")
		return
	}
	if req.Key == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "key is required")
		return
	}

	store, incarnation, ok := h.sup.Local()
	if !ok {
		h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeNotOwner, "this node does not own the singleton")
		return
	}

	dec := store.Increment(req.Key)

	result := transport.ResultDenied
	if dec.Allowed {
		result = transport.ResultAllowed
	}

	h.writeJSONResponse(w, http.StatusOK, transport.IncrementResponse{
		Result:      result,
		Count:       dec.Count,
		Remaining:   dec.Remaining,
		WindowID:    dec.WindowID,
		Incarnation: incarnation,
		NodeID:      h.membership.Self().ID,
	})
}

// Heartbeat records a peer's liveness and exchanges registry snapshots.
// POST /cluster/v1/heartbeat
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req transport.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.NodeID == "" || req.Addr == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "node_id and addr are required")
		return
	}

	if err := h.membership.ObserveHeartbeat(cluster.Node{ID: req.NodeID, Addr: req.Addr}, req.ProtocolVersion); err != nil {
		slog.Warn("rejected heartbeat", "from", req.NodeID, "error", err)
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	for _, handle := range req.Handles {
		h.reg.Apply(handle)
	}

	h.writeJSONResponse(w, http.StatusOK, transport.HeartbeatResponse{
		NodeID:          h.membership.Self().ID,
		ProtocolVersion: version.Protocol,
		Handles:         h.reg.Snapshot(),
	})
}

// Announce applies a pushed directory entry against this node's replica.
// POST /cluster/v1/announce
func (h *Handlers) Announce(w http.ResponseWriter, r *http.Request) {
	var req transport.AnnounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Handle.Name == "" || req.Handle.Owner.ID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "handle name and owner are required")
		return
	}

	accepted := h.reg.Apply(req.Handle)
	current, _ := h.reg.Lookup(req.Handle.Name)

	h.writeJSONResponse(w, http.StatusOK, transport.AnnounceResponse{
		Accepted: accepted,
		Current:  current,
	})
}
