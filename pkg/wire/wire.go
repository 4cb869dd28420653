// Package wire defines the JSON frames exchanged between clients and the
// session endpoint, together with the world-model records those frames carry.
//
// The state store, template registry, AOI builder, command handlers, and
// session endpoint all speak these types. They live in one leaf package so
// that every component can share them without import cycles; domain logic
// stays in the packages that own it.
package wire

// Frame types sent by clients.
const (
	TypeUpdateLocation = "update_location"
	TypeAction         = "action"
	TypeChat           = "chat"
	TypePing           = "ping"
)

// Frame types sent by the server.
const (
	TypeConnected      = "connected"
	TypeAreaOfInterest = "area_of_interest"
	TypeWorldUpdate    = "world_update"
	TypeActionResponse = "action_response"
	TypeError          = "error"
	TypeHeartbeat      = "heartbeat"
	TypePong           = "pong"
)

// WorldUpdateVersion is stamped on every outgoing world_update frame.
// Clients reject versions they do not understand.
const WorldUpdateVersion = "0.4"

// Error codes carried by error frames. The connection stays open after any
// of these except CodeInternal, which precedes an internal-error close.
const (
	CodeInvalidJSON  = "invalid_json"
	CodeUnknownType  = "unknown_type"
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
)

// Operation kinds inside a world_update changes list.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpUpdate = "update"
)

// Instance types as declared by templates.
const (
	InstanceTypeItem  = "item"
	InstanceTypeNPC   = "npc"
	InstanceTypeQuest = "quest"
)

// Bool returns a pointer to v. Convenient for the optional boolean fields
// on [Instance], where nil means "unset, use the default".
func Bool(v bool) *bool { return &v }
