// Package gateway is a thin transparent tunnel in front of the session
// endpoint.
//
// It terminates the public websocket, validates the bearer token with the
// same verifier the endpoint uses, and relays frames both ways without
// inspecting them. Deployments put it at the edge so that the runtime
// never faces the internet directly.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/emberfield/waystone/internal/auth"
	"github.com/emberfield/waystone/internal/observe"
)

// DefaultMaxConnections caps concurrent tunnels when the configuration
// does not override it.
const DefaultMaxConnections = 100

// Proxy tunnels websocket connections to the session endpoint.
type Proxy struct {
	verifier auth.Verifier
	upstream string
	slots    chan struct{}
	metrics  *observe.Metrics
}

// Option configures a [Proxy].
type Option func(*Proxy)

// WithMaxConnections sets the concurrent tunnel ceiling.
func WithMaxConnections(n int) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.slots = make(chan struct{}, n)
		}
	}
}

// WithMetrics records the live tunnel gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// NewProxy builds a tunnel towards upstreamURL, e.g.
// "ws://127.0.0.1:8400/ws".
func NewProxy(verifier auth.Verifier, upstreamURL string, opts ...Option) *Proxy {
	p := &Proxy{
		verifier: verifier,
		upstream: strings.TrimRight(upstreamURL, "/"),
		slots:    make(chan struct{}, DefaultMaxConnections),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServeHTTP accepts one client connection and tunnels it upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("gateway: accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	if _, err := p.verifier.Verify(r.Context(), r.URL.Query().Get("token")); err != nil {
		client.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	default:
		client.Close(websocket.StatusTryAgainLater, "gateway at capacity")
		return
	}

	// The upstream re-validates the token; the query string passes
	// through untouched so experience selection works identically.
	target := p.upstream
	if q := r.URL.RawQuery; q != "" {
		target += "?" + q
	}
	dialCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	backend, _, err := websocket.Dial(dialCtx, target, nil)
	cancel()
	if err != nil {
		slog.Error("gateway: upstream dial failed", "err", err)
		client.Close(websocket.StatusInternalError, "backend unavailable")
		return
	}

	if p.metrics != nil {
		p.metrics.TunnelledConnections.Add(r.Context(), 1)
		defer p.metrics.TunnelledConnections.Add(context.Background(), -1)
	}

	p.tunnel(r.Context(), client, backend)
}

// tunnel pumps frames both ways until either side drops, then mirrors the
// close onto the survivor.
func (p *Proxy) tunnel(parent context.Context, client, backend *websocket.Conn) {
	g, ctx := errgroup.WithContext(parent)
	g.Go(func() error { return pump(ctx, backend, client) })
	g.Go(func() error { return pump(ctx, client, backend) })
	err := g.Wait()

	status := websocket.CloseStatus(err)
	if status == -1 {
		status = websocket.StatusNormalClosure
	}
	client.Close(status, "")
	backend.Close(status, "")
}

// pump copies frames from src to dst until a read or write fails.
func pump(ctx context.Context, src, dst *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}
