// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes for programmatic handling
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// Check result values as they appear on the wire. These mirror the three-way
// outcome callers receive: the limiter never surfaces transport or
// coordination failures directly, only "unavailable".
const (
	ResultAllowed     = "allowed"
	ResultDenied      = "denied"
	ResultUnavailable = "unavailable"
)

// CheckResponse is the public answer to a quota check.
type CheckResponse struct {
	Result    string `json:"result"`               // allowed, denied, or unavailable
	Key       string `json:"key"`                  // Echoed request key
	Count     int64  `json:"count,omitempty"`      // Post-increment count (when the owner answered)
	Remaining int64  `json:"remaining,omitempty"`  // Requests left in the current window
	WindowID  int64  `json:"window_id,omitempty"`  // Owner's current window id
	OwnerNode string `json:"owner_node,omitempty"` // Node that answered the check
}

// StatusResponse describes this node's view of the cluster and, when this
// node is the owner, the live window.
type StatusResponse struct {
	NodeID      string       `json:"node_id"`
	Members     []MemberInfo `json:"members"`
	Owner       *OwnerInfo   `json:"owner,omitempty"`
	LocalWindow *WindowInfo  `json:"local_window,omitempty"`
	Uptime      string       `json:"uptime"`
	Timestamp   time.Time    `json:"timestamp"`
}

type MemberInfo struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	Alive bool   `json:"alive"`
}

type OwnerInfo struct {
	Name        string `json:"name"`
	NodeID      string `json:"node_id"`
	Addr        string `json:"addr"`
	Incarnation int64  `json:"incarnation"`
}

type WindowInfo struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Keys      int       `json:"keys"`
}

// EventsResponse lists recent ownership journal entries.
type EventsResponse struct {
	Events []EventInfo `json:"events"`
	Count  int         `json:"count"`
}

type EventInfo struct {
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"`
	NodeID      string    `json:"node_id"`
	Incarnation int64     `json:"incarnation,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ErrorResponse provides structured error information with debugging context.
type ErrorResponse struct {
	Error     string    `json:"error"`          // Error type (always "error")
	Message   string    `json:"message"`        // Human-readable error description
	Code      string    `json:"code,omitempty"` // Machine-readable error code
	Timestamp time.Time `json:"timestamp"`      // Error occurrence time
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Standard HTTP error codes.
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeNotOwner           = "NOT_OWNER"           // 409: This node does not own the singleton
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Quota exhausted for this window
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: No reachable owner
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}
