package shield

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/adamantine-wallet/gate/pkg/intent"
)

const maxResponseBytes = 64 << 10

// HTTPConfig configures HTTPGate.
type HTTPConfig struct {
	URL string
	// RPS and Burst rate-limit outgoing calls. Zero RPS disables limiting.
	RPS   float64
	Burst int
}

// HTTPGate asks a remote scorer over JSON/HTTP.
type HTTPGate struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPGate creates the adapter. Deadlines come from the caller's
// context, so wrap it with WithTimeout.
func NewHTTPGate(cfg HTTPConfig, client *http.Client) *HTTPGate {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	g := &HTTPGate{url: cfg.URL, client: client}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return g
}

type gateRequest struct {
	ContextHash string        `json:"context_hash"`
	Intent      intent.Intent `json:"intent"`
}

type gateResponse struct {
	Decision string `json:"decision"` // "pass" or "block"
	Reason   string `json:"reason,omitempty"`
}

// Evaluate implements Gate. Anything other than an explicit "pass" blocks.
func (g *HTTPGate) Evaluate(ctx context.Context, contextHash string, in intent.Intent) (Result, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Blocked(""), fmt.Errorf("shield: rate limited: %w", err)
		}
	}

	payload, err := json.Marshal(gateRequest{ContextHash: contextHash, Intent: in})
	if err != nil {
		return Blocked(""), fmt.Errorf("shield: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Blocked(""), fmt.Errorf("shield: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Blocked(""), fmt.Errorf("shield: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Blocked(""), fmt.Errorf("shield: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Blocked(""), fmt.Errorf("shield: read: %w", err)
	}
	var out gateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Blocked(""), fmt.Errorf("shield: parse: %w", err)
	}

	if strings.EqualFold(out.Decision, "pass") {
		return Passed(), nil
	}
	return Blocked(out.Reason), nil
}
