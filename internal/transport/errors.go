package transport

import "errors"

// ErrTimeout is returned when a remote call did not complete within its
// deadline. The dispatcher maps it to an unavailable outcome, never to
// allowed.
var ErrTimeout = errors.New("remote call timed out")

// ErrNotOwner is returned when the called node does not currently own the
// singleton, typically because the caller's directory replica is stale.
var ErrNotOwner = errors.New("remote node is not the singleton owner")

// ErrUnavailable is returned for transport-level failures other than
// timeouts: connection refused, malformed responses, unexpected status codes.
var ErrUnavailable = errors.New("remote node unavailable")
