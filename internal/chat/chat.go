// Package chat is the runtime's only coupling to the external narrative
// service.
//
// The talk verb forwards the NPC template, the player's relationship state,
// and the player's utterance over HTTP and relays the generated reply.
// Every call carries a deadline, and the client sits behind a circuit
// breaker: an outage or timeout degrades to a canned reply so that talk
// keeps answering while every other verb stays unaffected.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emberfield/waystone/internal/resilience"
	"github.com/emberfield/waystone/pkg/wire"
)

// Compile-time interface assertion.
var _ Client = (*HTTPClient)(nil)

const (
	// replyEndpoint is the narrative service route that generates one NPC
	// reply.
	replyEndpoint = "/v1/npc/reply"

	// DefaultTimeout bounds each narrative call when the configuration
	// does not override it.
	DefaultTimeout = 10 * time.Second
)

// ErrUnavailable is returned when the narrative service cannot be reached
// or answers with a non-success status.
var ErrUnavailable = errors.New("chat: narrative service unavailable")

// PlayerSummary is the slice of the player view the narrative service sees.
// It deliberately excludes raw inventory contents; the service works from
// counts and position only.
type PlayerSummary struct {
	CurrentLocation string `json:"current_location"`
	CurrentArea     string `json:"current_area,omitempty"`
	InventoryCount  int    `json:"inventory_count"`
}

// Request carries one talk exchange to the narrative service.
type Request struct {
	Experience   string            `json:"experience"`
	UserID       string            `json:"user_id"`
	NPC          map[string]any    `json:"npc"`
	Relationship wire.Relationship `json:"relationship"`
	Player       PlayerSummary     `json:"player"`
	Message      string            `json:"message"`
}

// Client generates one NPC reply per call. Implementations must honour the
// context deadline.
type Client interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// HTTPClient talks to the narrative service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring an [HTTPClient].
type Option func(*HTTPClient)

// WithTimeout sets the per-request HTTP timeout. Defaults to
// [DefaultTimeout] if not set.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, for tests or custom
// transport settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a client for the narrative service rooted at
// baseURL (e.g., "http://localhost:8500").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// replyResponse is the narrative service's answer envelope.
type replyResponse struct {
	Reply string `json:"reply"`
}

// Reply implements [Client].
func (c *HTTPClient) Reply(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("chat: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+replyEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the log line, then drop it.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	}

	var decoded replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", ErrUnavailable, err)
	}
	if decoded.Reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUnavailable)
	}
	return decoded.Reply, nil
}

// Service wraps a [Client] in a circuit breaker and supplies the canned
// degradation path.
type Service struct {
	client  Client
	breaker *resilience.CircuitBreaker
}

// NewService builds the talk verb's chat dependency around client.
func NewService(client Client) *Service {
	return &Service{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "narrative-service",
		}),
	}
}

// Reply returns the NPC's reply to req. When the narrative service fails,
// times out, or its breaker is open, the second return is true and the
// reply is a canned line; callers must then skip relationship mutation.
func (s *Service) Reply(ctx context.Context, req Request) (reply string, degraded bool) {
	err := s.breaker.Execute(func() error {
		var callErr error
		reply, callErr = s.client.Reply(ctx, req)
		return callErr
	})
	if err != nil {
		return CannedReply(req.NPC), true
	}
	return reply, false
}

// CannedReply produces the degraded-mode line for an NPC. The template may
// author its own via a "fallback_reply" field.
func CannedReply(npc map[string]any) string {
	if authored, ok := npc["fallback_reply"].(string); ok && authored != "" {
		return authored
	}
	name, _ := npc["name"].(string)
	if name == "" {
		name = "They"
	}
	return fmt.Sprintf("%s seems lost in thought and doesn't answer right now.", name)
}
