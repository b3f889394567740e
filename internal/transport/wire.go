// Package transport implements the node-to-node request/response calls:
// counter increments against the owner, singleton announcements, and
// membership heartbeats. Everything is JSON over HTTP with a per-call
// deadline; the server side of these routes lives in internal/api.
package transport

import (
	"quotad/internal/registry"
)

// Operation names as they appear on the wire.
const (
	OpIncrement = "increment"
)

// Result values returned by the owner's counter.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
)

// IncrementRequest asks the owner node to check-and-increment one key.
type IncrementRequest struct {
	Operation string `json:"operation"`
	Key       string `json:"key"`
	RequestID string `json:"request_id,omitempty"`
}

// IncrementResponse carries the owner's decision.
type IncrementResponse struct {
	Result      string `json:"result"`
	Count       int64  `json:"count"`
	Remaining   int64  `json:"remaining"`
	WindowID    int64  `json:"window_id"`
	Incarnation int64  `json:"incarnation"`
	NodeID      string `json:"node_id"`
}

// HeartbeatRequest announces the sender's liveness. Handles piggybacks the
// sender's registry snapshot so directory entries propagate even when a push
// announcement was lost.
type HeartbeatRequest struct {
	NodeID          string            `json:"node_id"`
	Addr            string            `json:"addr"`
	ProtocolVersion string            `json:"protocol_version"`
	Handles         []registry.Handle `json:"handles,omitempty"`
}

// HeartbeatResponse mirrors the responder's identity and registry snapshot.
type HeartbeatResponse struct {
	NodeID          string            `json:"node_id"`
	ProtocolVersion string            `json:"protocol_version"`
	Handles         []registry.Handle `json:"handles,omitempty"`
}

// AnnounceRequest pushes one directory entry to a peer.
type AnnounceRequest struct {
	Handle registry.Handle `json:"handle"`
}

// AnnounceResponse reports whether the peer's replica accepted the entry and
// what it currently holds, so a losing announcer learns the winner.
type AnnounceResponse struct {
	Accepted bool            `json:"accepted"`
	Current  registry.Handle `json:"current"`
}
