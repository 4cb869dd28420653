// Package session owns the persistent client connections.
//
// Each websocket carries one authenticated player. The endpoint validates
// the bearer token, registers the connection (evicting any prior session
// of the same user), bridges the user's event-bus subject onto the
// socket, and translates inbound frames into AOI builds and command
// dispatches. Sessions are independent: a failure on one never touches
// another.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/emberfield/waystone/internal/auth"
	"github.com/emberfield/waystone/internal/bus"
	"github.com/emberfield/waystone/internal/command"
	"github.com/emberfield/waystone/internal/observe"
	"github.com/emberfield/waystone/pkg/wire"
)

// Defaults applied when the configuration leaves them zero.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

// AOIBuilder produces the area_of_interest payload for a position. The
// aoi package satisfies it.
type AOIBuilder interface {
	Build(ctx context.Context, experienceID, userID string, pos wire.GPS) (*wire.AOIFrame, error)
}

// Dispatcher routes one action to its handler. The command package
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *command.Request) *command.Result
	AdminOnly(verb string) bool
}

// Endpoint is the websocket handler for client sessions.
type Endpoint struct {
	verifier   auth.Verifier
	bus        bus.Bus
	aoi        AOIBuilder
	dispatcher Dispatcher
	registry   *Registry

	defaultExperience string
	heartbeat         time.Duration
	writeTimeout      time.Duration
	metrics           *observe.Metrics
}

// Option configures an [Endpoint].
type Option func(*Endpoint)

// WithHeartbeatInterval overrides how often heartbeats are sent.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.heartbeat = d
		}
	}
}

// WithWriteTimeout overrides the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// WithMetrics records connection and frame counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Endpoint) { e.metrics = m }
}

// NewEndpoint wires a session endpoint. defaultExperience is used when
// the client does not name one on connect.
func NewEndpoint(verifier auth.Verifier, b bus.Bus, builder AOIBuilder, dispatcher Dispatcher, registry *Registry, defaultExperience string, opts ...Option) *Endpoint {
	e := &Endpoint{
		verifier:          verifier,
		bus:               b,
		aoi:               builder,
		dispatcher:        dispatcher,
		registry:          registry,
		defaultExperience: defaultExperience,
		heartbeat:         DefaultHeartbeatInterval,
		writeTimeout:      DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the endpoint's connection registry, for @stats wiring.
func (e *Endpoint) Registry() *Registry { return e.registry }

// ServeHTTP upgrades the request and runs the session to completion.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("session: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	identity, err := e.verifier.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		// Token problems close before any state access.
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	experienceID := r.URL.Query().Get("experience")
	if experienceID == "" {
		experienceID = e.defaultExperience
	}

	e.run(r.Context(), conn, identity, experienceID)
}

// run owns the whole session lifecycle after a successful accept.
func (e *Endpoint) run(parent context.Context, conn *websocket.Conn, identity auth.Identity, experienceID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess := &session{
		conn:         conn,
		writeTimeout: e.writeTimeout,
		metrics:      e.metrics,
	}
	connID := uuid.NewString()
	log := slog.With("connection", connID, "user", identity.UserID, "experience", experienceID)

	e.registry.Register(connID, identity.UserID, experienceID, func() {
		conn.Close(websocket.StatusNormalClosure, "superseded by a newer session")
	})
	if e.metrics != nil {
		e.metrics.ActiveConnections.Add(ctx, 1)
	}

	sub, err := e.bus.Subscribe(ctx, bus.UserSubject(identity.UserID), func(subject string, payload []byte) {
		// World updates are published fully serialized; relay verbatim.
		if err := sess.sendRaw(ctx, wire.TypeWorldUpdate, payload); err != nil {
			cancel()
		}
	})
	if err != nil {
		log.Error("session: event bus subscribe failed", "err", err)
		e.teardown(connID, nil, sess, websocket.StatusInternalError, "event bus unavailable")
		return
	}

	defer e.teardown(connID, sub, sess, websocket.StatusNormalClosure, "session closed")

	if err := sess.send(ctx, wire.TypeConnected, wire.ConnectedFrame{
		Type:         wire.TypeConnected,
		ConnectionID: connID,
		UserID:       identity.UserID,
		Experience:   experienceID,
		Timestamp:    time.Now().UnixMilli(),
	}); err != nil {
		log.Warn("session: welcome failed", "err", err)
		return
	}
	log.Info("session: connected")

	go e.heartbeatLoop(ctx, sess, cancel)

	e.readLoop(ctx, log, sess, identity, experienceID)
	log.Info("session: closed")
}

// heartbeatLoop sends periodic heartbeats; the first failed send tears
// the session down.
func (e *Endpoint) heartbeatLoop(ctx context.Context, sess *session, cancel context.CancelFunc) {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.send(ctx, wire.TypeHeartbeat, wire.HeartbeatFrame{
				Type:      wire.TypeHeartbeat,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				cancel()
				return
			}
		}
	}
}

// readLoop consumes client frames until the connection drops. Malformed
// frames answer with an error frame and keep the connection open; an
// admin verb from a non-admin session closes it with a policy violation.
func (e *Endpoint) readLoop(ctx context.Context, log *slog.Logger, sess *session, identity auth.Identity, experienceID string) {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			return
		}

		var frame wire.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.sendError(ctx, wire.CodeInvalidJSON, "frame is not valid JSON")
			continue
		}

		switch frame.Type {
		case wire.TypeUpdateLocation:
			e.handleLocation(ctx, log, sess, identity, experienceID, frame)
		case wire.TypeAction:
			if !e.handleAction(ctx, sess, identity, experienceID, frame) {
				return
			}
		case wire.TypeChat:
			if !e.handleChat(ctx, sess, identity, experienceID, frame) {
				return
			}
		case wire.TypePing:
			sess.send(ctx, wire.TypePong, wire.PongFrame{
				Type:      wire.TypePong,
				Timestamp: frame.Timestamp,
			})
		case "":
			sess.sendError(ctx, wire.CodeBadRequest, "frame has no type")
		default:
			sess.sendError(ctx, wire.CodeUnknownType, "unknown frame type "+frame.Type)
		}
	}
}

func (e *Endpoint) handleLocation(ctx context.Context, log *slog.Logger, sess *session, identity auth.Identity, experienceID string, frame wire.ClientFrame) {
	aoiFrame, err := e.aoi.Build(ctx, experienceID, identity.UserID, wire.GPS{Lat: frame.Lat, Lng: frame.Lng})
	if err != nil {
		log.Error("session: aoi build failed", "err", err)
		sess.sendError(ctx, wire.CodeInternal, "could not compose your surroundings")
		return
	}
	sess.send(ctx, wire.TypeAreaOfInterest, aoiFrame)
}

func (e *Endpoint) handleAction(ctx context.Context, sess *session, identity auth.Identity, experienceID string, frame wire.ClientFrame) bool {
	if e.adminBreach(ctx, sess, identity, frame.Action) {
		return false
	}
	res := e.dispatcher.Dispatch(ctx, &command.Request{
		UserID:     identity.UserID,
		Experience: experienceID,
		Verb:       frame.Action,
		IsAdmin:    identity.IsAdmin,
		ItemID:     frame.ItemID,
		AreaID:     frame.AreaID,
		NPCID:      frame.NPCID,
		Target:     frame.Target,
		Message:    frame.Message,
		Args:       frame.Args,
	})
	sess.send(ctx, wire.TypeActionResponse, wire.ActionResponseFrame{
		Type:      wire.TypeActionResponse,
		Action:    frame.Action,
		Success:   res.Success,
		Message:   res.Message,
		Metadata:  res.Metadata,
		Timestamp: time.Now().UnixMilli(),
	})
	return true
}

// adminBreach closes the session when a non-admin attempts an admin
// verb. Reports whether the connection was cut.
func (e *Endpoint) adminBreach(ctx context.Context, sess *session, identity auth.Identity, verb string) bool {
	if identity.IsAdmin || !e.dispatcher.AdminOnly(verb) {
		return false
	}
	sess.sendError(ctx, wire.CodeUnauthorized, "admin access required")
	sess.conn.Close(websocket.StatusPolicyViolation, "admin access required")
	return true
}

// handleChat maps free-form chat onto the command layer: "@" lines become
// admin commands, NPC-addressed text becomes talk, and anything else gets
// a placeholder acknowledgement.
func (e *Endpoint) handleChat(ctx context.Context, sess *session, identity auth.Identity, experienceID string, frame wire.ClientFrame) bool {
	text := strings.TrimSpace(frame.Text)

	var req *command.Request
	switch {
	case strings.HasPrefix(text, "@"):
		fields := strings.Fields(text)
		if e.adminBreach(ctx, sess, identity, fields[0]) {
			return false
		}
		req = &command.Request{
			UserID:     identity.UserID,
			Experience: experienceID,
			Verb:       fields[0],
			IsAdmin:    identity.IsAdmin,
			Args:       fields[1:],
		}
	case frame.NPCID != "":
		req = &command.Request{
			UserID:     identity.UserID,
			Experience: experienceID,
			Verb:       "talk",
			IsAdmin:    identity.IsAdmin,
			NPCID:      frame.NPCID,
			Message:    text,
		}
	default:
		sess.send(ctx, wire.TypeActionResponse, wire.ActionResponseFrame{
			Type:      wire.TypeActionResponse,
			Action:    wire.TypeChat,
			Success:   true,
			Message:   "Your words drift away unanswered.",
			Timestamp: time.Now().UnixMilli(),
		})
		return true
	}

	res := e.dispatcher.Dispatch(ctx, req)
	sess.send(ctx, wire.TypeActionResponse, wire.ActionResponseFrame{
		Type:      wire.TypeActionResponse,
		Action:    wire.TypeChat,
		Success:   res.Success,
		Message:   res.Message,
		Metadata:  res.Metadata,
		Timestamp: time.Now().UnixMilli(),
	})
	return true
}

// teardown runs every disconnect path exactly once per session: bus
// unsubscribe, registry removal, socket close.
func (e *Endpoint) teardown(connID string, sub *bus.Subscription, sess *session, code websocket.StatusCode, reason string) {
	if sub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sub.Unsubscribe(ctx); err != nil {
			slog.Warn("session: unsubscribe failed", "connection", connID, "err", err)
		}
		cancel()
	}
	e.registry.Deregister(connID)
	if e.metrics != nil {
		e.metrics.ActiveConnections.Add(context.Background(), -1)
	}
	sess.conn.Close(code, reason)
}

// session serializes writes to one websocket.
type session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	metrics      *observe.Metrics

	mu sync.Mutex
}

// send marshals v and writes it as one text frame.
func (s *session) send(ctx context.Context, frameType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.sendRaw(ctx, frameType, data)
}

func (s *session) sendRaw(ctx context.Context, frameType string, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	s.mu.Lock()
	err := s.conn.Write(wctx, websocket.MessageText, data)
	s.mu.Unlock()

	if err == nil && s.metrics != nil {
		s.metrics.RecordFrame(ctx, frameType)
	}
	return err
}

func (s *session) sendError(ctx context.Context, code, message string) {
	s.send(ctx, wire.TypeError, wire.ErrorFrame{
		Type:      wire.TypeError,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}
