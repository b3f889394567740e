// Package cluster tracks which peer nodes are reachable. Membership works
// from a static seed list: liveness is decided by periodic heartbeats, and
// join/leave transitions are published to watchers such as the singleton
// supervisor. A node's identity (ID) is deliberately separate from its
// communication address (Addr); the two must never be conflated.
package cluster

import "sort"

// Node identifies a cluster member. ID is the stable identity used in
// deterministic elections; Addr is the host:port its cluster API listens on.
type Node struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// SortNodes orders nodes by ID in place. Election candidates are picked from
// this order, so it must be total and deterministic.
func SortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
}

// EventType classifies a membership transition.
type EventType int

const (
	// Join means a node became reachable.
	Join EventType = iota
	// Leave means a node stopped responding for longer than the offline
	// threshold, or failed a protocol compatibility check.
	Leave
)

func (t EventType) String() string {
	switch t {
	case Join:
		return "join"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// Event is a single membership transition delivered to watchers.
type Event struct {
	Type EventType
	Node Node
}
