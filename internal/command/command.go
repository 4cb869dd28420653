// Package command routes typed client actions to their handlers.
//
// The dispatcher owns no state: it resolves the verb, validates required
// fields, invokes the handler, and commits any returned delta through the
// state store, which in turn owns locking, versioning, and event
// publishing. Handlers are deterministic; the single exception is talk,
// which consults the external narrative service through the chat package.
package command

import (
	"context"

	"github.com/emberfield/waystone/internal/chat"
	"github.com/emberfield/waystone/internal/state"
	"github.com/emberfield/waystone/internal/template"
)

// Request is one parsed client action addressed to a handler.
type Request struct {
	// UserID and Experience scope every state access.
	UserID     string
	Experience string

	// Verb is the canonical action verb after alias resolution.
	Verb string

	// IsAdmin mirrors the session's admin claim; the @-verbs require it.
	IsAdmin bool

	// ItemID targets an instance for collect, drop, give, and examine.
	ItemID string

	// AreaID optionally pins collect to a specific area.
	AreaID string

	// NPCID targets an NPC for give and talk.
	NPCID string

	// Target is the destination for go.
	Target string

	// Message is the player's utterance for talk.
	Message string

	// Args carries the whitespace-split argument list for admin verbs.
	Args []string
}

// Result is the outcome of one handled command. StateChanges, when
// non-nil, is committed by the dispatcher through the state store; the
// handler itself never writes.
type Result struct {
	Success bool

	// Message is the player-facing narrative line.
	Message string

	// Actions optionally instructs the client (play a sound, open a
	// panel). Passed through verbatim.
	Actions []map[string]any

	// StateChanges is the delta tree to commit, in state store operator
	// form. Nil for read-only verbs and failures.
	StateChanges map[string]any

	// Metadata carries structured extras (trust change, match scores).
	Metadata map[string]any
}

// ok builds a success result with a message.
func ok(message string) *Result {
	return &Result{Success: true, Message: message}
}

// fail builds a player-facing failure with no state change.
func fail(message string) *Result {
	return &Result{Success: false, Message: message}
}

// HandlerFunc is the uniform handler signature. Handlers return a Result
// for every player-facing outcome, reserving the error return for
// internal failures the dispatcher translates and logs.
type HandlerFunc func(ctx context.Context, req *Request) (*Result, error)

// StatsSource reports live session numbers for the @stats verb. The
// session registry satisfies it; a nil source reads as zero sessions.
type StatsSource interface {
	ActiveConnections() int
	ConnectionsByExperience() map[string]int
}

// ConnectedReporter reports event bus reachability for @stats.
type ConnectedReporter interface {
	Connected() bool
}

// Deps holds the collaborators shared by every handler.
type Deps struct {
	Store     *state.Store
	Templates *template.Registry
	Chat      *chat.Service
	Stats     StatsSource
	Bus       ConnectedReporter
}
