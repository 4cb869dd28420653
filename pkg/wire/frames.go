package wire

// ClientFrame is the decoded form of any frame a client may send. All
// client frames share one flat JSON object with a required "type" field;
// which other fields are meaningful depends on the type and, for action
// frames, on the action verb. Unknown fields are ignored on decode.
type ClientFrame struct {
	// Type discriminates the frame. One of the Type* client constants.
	Type string `json:"type"`

	// Lat and Lng carry the GPS position for update_location frames.
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`

	// Action is the verb for action frames, e.g. "collect" or "@edit".
	Action string `json:"action,omitempty"`

	// ItemID targets an instance for collect, drop, give and examine.
	ItemID string `json:"item_id,omitempty"`

	// AreaID optionally pins collect to a specific area.
	AreaID string `json:"area_id,omitempty"`

	// NPCID targets an NPC for give, talk, and NPC-addressed chat.
	NPCID string `json:"npc_id,omitempty"`

	// Target is the destination for go: an area id, an area name, or a
	// cardinal direction.
	Target string `json:"target,omitempty"`

	// Message is the player's utterance for talk.
	Message string `json:"message,omitempty"`

	// Text is the free-form line for chat frames. Lines starting with "@"
	// are treated as admin commands.
	Text string `json:"text,omitempty"`

	// Args carries pre-split arguments for admin verbs sent as action
	// frames, e.g. {"action":"@edit","args":["item","x","name","Lamp"]}.
	Args []string `json:"args,omitempty"`

	// Timestamp is the client clock on ping frames, echoed back in the pong.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ConnectedFrame is the welcome message sent once after a successful accept.
type ConnectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Experience   string `json:"experience"`
	Timestamp    int64  `json:"timestamp"`
}

// AOIFrame is the area_of_interest payload answering an update_location.
// Zone is null and Areas empty when no zone is within range of the client's
// position; that is a normal response, not an error.
type AOIFrame struct {
	Type            string                `json:"type"`
	SnapshotVersion uint64                `json:"snapshot_version"`
	Zone            *ZoneRecord           `json:"zone"`
	Areas           map[string]AreaRecord `json:"areas"`
	Player          PlayerRecord          `json:"player"`
}

// ZoneRecord is the zone header inside an AOI payload.
type ZoneRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GPS         *GPS   `json:"gps,omitempty"`
}

// AreaRecord is one area inside an AOI payload. Items and NPCs hold merged
// template+instance records; instances with visible == false never appear.
type AreaRecord struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Items       []map[string]any `json:"items"`
	NPCs        []map[string]any `json:"npcs"`
}

// PlayerRecord summarizes the player's own state inside an AOI payload.
type PlayerRecord struct {
	CurrentLocation string           `json:"current_location"`
	CurrentArea     *string          `json:"current_area"`
	Inventory       []map[string]any `json:"inventory"`
}

// WorldUpdateFrame is a v0.4 delta event. SnapshotVersion is always
// BaseVersion+1; a client whose local version differs from BaseVersion must
// treat its stream as desynchronized and request a fresh AOI.
type WorldUpdateFrame struct {
	Type            string         `json:"type"`
	Version         string         `json:"version"`
	Experience      string         `json:"experience"`
	UserID          string         `json:"user_id"`
	BaseVersion     uint64         `json:"base_version"`
	SnapshotVersion uint64         `json:"snapshot_version"`
	Changes         []Operation    `json:"changes"`
	Timestamp       int64          `json:"timestamp"`
	Metadata        UpdateMetadata `json:"metadata"`
}

// UpdateMetadata annotates a world_update with its producer.
type UpdateMetadata struct {
	Source     string `json:"source"`
	StateModel string `json:"state_model"`
}

// Operation is one entry in a world_update changes list.
//
// Remove operations carry AreaID and InstanceID. Add operations carry the
// merged Item record plus either AreaID (spawned into an area) or Path
// (e.g. "player.inventory"). Update operations carry the Path of the
// changed value and the new Value; list-element patches additionally carry
// the InstanceID of the patched element.
type Operation struct {
	Operation  string         `json:"operation"`
	AreaID     string         `json:"area_id,omitempty"`
	Path       string         `json:"path,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	Item       map[string]any `json:"item,omitempty"`
	Value      any            `json:"value,omitempty"`
}

// ActionResponseFrame answers one action frame.
type ActionResponseFrame struct {
	Type      string         `json:"type"`
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// ErrorFrame reports a per-frame protocol error without closing the
// connection, or precedes a close for fatal codes.
type ErrorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// HeartbeatFrame is sent by the server every heartbeat interval.
type HeartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// PongFrame echoes a ping's timestamp.
type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
