package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/internal/observe"
	"github.com/emberfield/waystone/internal/state"
)

// aliases maps natural-language verb variants onto canonical verbs.
// Resolution happens once at the dispatcher edge; handlers only ever see
// canonical verbs.
var aliases = map[string]string{
	"take":    "collect",
	"grab":    "collect",
	"pick":    "collect",
	"pick up": "collect",
	"get":     "collect",
	"put":     "drop",
	"leave":   "drop",
	"hand":    "give",
	"offer":   "give",
	"move":    "go",
	"walk":    "go",
	"head":    "go",
	"speak":   "talk",
	"say":     "talk",
	"chat":    "talk",
	"inv":     "inventory",
	"items":   "inventory",
	"inspect": "examine",
	"check":   "examine",
	"view":    "examine",
}

// field names used in required-field declarations and error messages.
const (
	fieldItemID = "item_id"
	fieldNPCID  = "npc_id"
	fieldTarget = "target"
)

// entry describes one registered handler.
type entry struct {
	fn       HandlerFunc
	requires []string
	admin    bool
}

// Dispatcher routes requests to registered handlers and commits their
// state changes. Safe for concurrent use; registration happens only at
// construction.
type Dispatcher struct {
	deps     Deps
	registry map[string]entry
	metrics  *observe.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records per-verb counters and latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher builds the dispatcher with the full verb registry.
func NewDispatcher(deps Deps, opts ...Option) *Dispatcher {
	d := &Dispatcher{deps: deps, registry: map[string]entry{}}
	for _, opt := range opts {
		opt(d)
	}

	d.register("collect", d.handleCollect, fieldItemID)
	d.register("drop", d.handleDrop, fieldItemID)
	d.register("give", d.handleGive, fieldItemID, fieldNPCID)
	d.register("go", d.handleGo, fieldTarget)
	d.register("look", d.handleLook)
	d.register("inventory", d.handleInventory)
	d.register("examine", d.handleExamine)
	d.register("talk", d.handleTalk, fieldNPCID)

	d.registerAdmin("@list", d.handleAdminList)
	d.registerAdmin("@inspect", d.handleAdminInspect)
	d.registerAdmin("@create", d.handleAdminCreate)
	d.registerAdmin("@edit", d.handleAdminEdit)
	d.registerAdmin("@delete", d.handleAdminDelete)
	d.registerAdmin("@connect", d.handleAdminConnect)
	d.registerAdmin("@disconnect", d.handleAdminDisconnect)
	d.registerAdmin("@reset", d.handleAdminReset)
	d.registerAdmin("@where", d.handleAdminWhere)
	d.registerAdmin("@find", d.handleAdminFind)
	d.registerAdmin("@stats", d.handleAdminStats)

	return d
}

func (d *Dispatcher) register(verb string, fn HandlerFunc, requires ...string) {
	d.registry[verb] = entry{fn: fn, requires: requires}
}

func (d *Dispatcher) registerAdmin(verb string, fn HandlerFunc) {
	d.registry[verb] = entry{fn: fn, admin: true}
}

// Resolve canonicalizes a raw verb through the alias table. Unknown verbs
// pass through unchanged so Dispatch can report them.
func Resolve(verb string) string {
	v := strings.ToLower(strings.TrimSpace(verb))
	if canonical, ok := aliases[v]; ok {
		return canonical
	}
	return v
}

// AdminOnly reports whether a verb resolves to an admin-restricted
// handler. The session layer uses it to cut connections that attempt
// admin verbs without the claim.
func (d *Dispatcher) AdminOnly(verb string) bool {
	ent, known := d.registry[Resolve(verb)]
	return known && ent.admin
}

// Dispatch runs one request end to end: verb resolution, admin gating,
// required-field validation, the handler itself, and the state store
// commit for any returned delta. It never returns an error to the caller;
// every failure mode becomes a structured Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Result {
	start := time.Now()
	req.Verb = Resolve(req.Verb)

	res := d.dispatch(ctx, req)

	if d.metrics != nil {
		status := "ok"
		if !res.Success {
			status = "error"
		}
		d.metrics.RecordCommand(ctx, req.Verb, status, time.Since(start).Seconds())
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (res *Result) {
	// A handler panic must not take the session down; convert it to a
	// generic failure with a correlation id for the log line.
	defer func() {
		if r := recover(); r != nil {
			cid := uuid.NewString()
			slog.Error("command: handler panic",
				"verb", req.Verb, "user", req.UserID,
				"experience", req.Experience, "correlation_id", cid, "panic", r)
			res = fail("Something went wrong. Please try again.")
		}
	}()

	ent, known := d.registry[req.Verb]
	if !known {
		return fail("I don't know how to " + displayVerb(req.Verb) + ".")
	}
	if ent.admin && !req.IsAdmin {
		return fail("That command requires admin access.")
	}
	if missing := missingFields(req, ent.requires); missing != "" {
		return fail("The " + req.Verb + " command needs " + missing + ".")
	}

	res, err := ent.fn(ctx, req)
	if err != nil {
		return d.translateError(req, err)
	}
	if res.Success && res.StateChanges != nil {
		if err := d.commit(ctx, req, res); err != nil {
			return d.translateError(req, err)
		}
	}
	return res
}

// commit applies the handler's delta through the store, which locks,
// versions, and publishes.
func (d *Dispatcher) commit(ctx context.Context, req *Request, res *Result) error {
	start := time.Now()
	_, err := d.deps.Store.UpdateWorldState(ctx, req.Experience, res.StateChanges, req.UserID)
	if d.metrics != nil {
		d.metrics.StoreWriteDuration.Record(ctx, time.Since(start).Seconds())
	}
	return err
}

// translateError converts internal errors into player-facing failures per
// the error taxonomy. Unexpected errors are logged with a correlation id.
func (d *Dispatcher) translateError(req *Request, err error) *Result {
	switch {
	case errors.Is(err, state.ErrConflict):
		// Someone else won the race; the handler's precondition no
		// longer holds.
		return fail("Too late — that's already gone.")
	case errors.Is(err, state.ErrLockTimeout):
		return fail("The world is busy right now. Please try again.")
	case errors.Is(err, experience.ErrNotFound):
		return fail("That experience doesn't exist.")
	case errors.Is(err, state.ErrNotFound):
		return fail("There's nothing like that here.")
	}

	cid := uuid.NewString()
	slog.Error("command: handler failed",
		"verb", req.Verb, "user", req.UserID,
		"experience", req.Experience, "correlation_id", cid, "err", err)
	return fail("Something went wrong. Please try again.")
}

func missingFields(req *Request, requires []string) string {
	var missing []string
	for _, f := range requires {
		switch f {
		case fieldItemID:
			if req.ItemID == "" {
				missing = append(missing, "an item")
			}
		case fieldNPCID:
			if req.NPCID == "" {
				missing = append(missing, "someone to address")
			}
		case fieldTarget:
			if req.Target == "" {
				missing = append(missing, "a destination")
			}
		}
	}
	return strings.Join(missing, " and ")
}

// displayVerb keeps arbitrary client input from echoing back unbounded.
func displayVerb(verb string) string {
	if len(verb) > 32 {
		verb = verb[:32]
	}
	if verb == "" {
		return "that"
	}
	return verb
}
