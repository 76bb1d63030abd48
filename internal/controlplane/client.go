// Package controlplane implements the injectable ControlPlaneClient (§9):
// the downstream container's token-ingest endpoint, POSTed to at
// http://<ip>:8083/tokens per §6.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/streamspace/sealskin/internal/logger"
)

const tokenPort = 8083

// TokenState is one token's authoritative role/slot/mk_control triple,
// pushed downstream per §4.M.
type TokenState struct {
	Role      string `json:"role"`
	Slot      *int   `json:"slot"`
	MKControl bool   `json:"mk_control"`
}

// PushRequest is the JSON body of a downstream token push.
type PushRequest struct {
	Token map[string]TokenState `json:"token"`
}

// Client is the capability interface; swap for a record-and-replay fake in tests.
type Client interface {
	PushTokenState(ctx context.Context, ip, masterToken string, tokens map[string]TokenState) error
}

// HTTPClient POSTs token state to each container's /tokens endpoint with a
// short, best-effort timeout, matching the original's broadcast_token_state
// (§9 Open Questions: at-most-once, failures logged and swallowed).
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient constructs an HTTPClient with a 1-second per-request timeout.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{httpClient: &http.Client{Timeout: 1 * time.Second}}
}

// PushTokenState POSTs the given token map to ip:8083/tokens. Errors are
// logged by the caller's best-effort loop; this method still returns them
// so callers can log with extra context.
func (c *HTTPClient) PushTokenState(ctx context.Context, ip, masterToken string, tokens map[string]TokenState) error {
	body, err := json.Marshal(PushRequest{Token: tokens})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d/tokens", ip, tokenPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+masterToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Collab().Warn().Int("status", resp.StatusCode).Str("ip", ip).Msg("token push rejected")
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
