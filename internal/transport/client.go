package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"quotad/internal/cluster"
	"quotad/internal/registry"

	"github.com/google/uuid"
)

// Client performs JSON request/response calls against peer nodes. It is
// stateless apart from the shared http.Client and safe for concurrent use.
// Deadlines come from the caller's context; Client never blocks past them.
type Client struct {
	http *http.Client
}

// NewClient creates a transport client. The underlying http.Client carries no
// global timeout: each call is bounded by its context so heartbeats and
// increments can use different budgets.
func NewClient() *Client {
	return &Client{
		http: &http.Client{},
	}
}

// Increment performs a check-and-increment for key on the owner node to.
func (c *Client) Increment(ctx context.Context, to cluster.Node, key string) (IncrementResponse, error) {
	req := IncrementRequest{
		Operation: OpIncrement,
		Key:       key,
		RequestID: uuid.New().String(),
	}

	var resp IncrementResponse
	if err := c.post(ctx, to, "/cluster/v1/increment", req, &resp); err != nil {
		return IncrementResponse{}, err
	}
	return resp, nil
}

// Heartbeat sends a liveness probe with the local registry snapshot and
// returns the peer's snapshot.
func (c *Client) Heartbeat(ctx context.Context, to cluster.Node, req HeartbeatRequest) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.post(ctx, to, "/cluster/v1/heartbeat", req, &resp); err != nil {
		return HeartbeatResponse{}, err
	}
	return resp, nil
}

// Announce pushes a directory entry to a peer's registry replica.
func (c *Client) Announce(ctx context.Context, to cluster.Node, h registry.Handle) (AnnounceResponse, error) {
	var resp AnnounceResponse
	if err := c.post(ctx, to, "/cluster/v1/announce", AnnounceRequest{Handle: h}, &resp); err != nil {
		return AnnounceResponse{}, err
	}
	return resp, nil
}

// post issues one JSON POST and decodes the response into out. Errors are
// normalized to the package's sentinel errors so callers can branch without
// inspecting HTTP details.
func (c *Client) post(ctx context.Context, to cluster.Node, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	url := "http://" + to.Addr + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s%s", ErrTimeout, to.Addr, path)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrNotOwner, to.ID)
	default:
		return fmt.Errorf("%w: %s%s returned status %d", ErrUnavailable, to.Addr, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
