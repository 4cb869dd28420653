package wire

// GPS is a WGS84 coordinate pair.
type GPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geography is a GPS anchor within an experience. Zones reference the world
// through these anchors; queries over them are distance based, never
// hierarchical.
type Geography struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Region string  `json:"region,omitempty"`
}

// World is the typed read view of a world snapshot. Writers never operate
// on this type; mutation goes through the state store's delta operators so
// that authored fields outside the typed schema survive round trips.
type World struct {
	Locations map[string]Zone `json:"locations"`
}

// Zone locates the typed record for id, which may be the zone's map key or
// its explicit id field.
func (w *World) Zone(id string) (Zone, bool) {
	if w == nil {
		return Zone{}, false
	}
	if z, ok := w.Locations[id]; ok {
		return z, true
	}
	for _, z := range w.Locations {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

// Zone is a themed location within an experience; the granularity at which
// an AOI is produced. In a shared experience a zone is global; in an
// isolated experience each player view carries its own copy.
type Zone struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	GPS         *GPS            `json:"gps,omitempty"`
	Areas       map[string]Area `json:"areas,omitempty"`
	NPC         string          `json:"npc,omitempty"`
}

// Area returns the area stored under id.
func (z Zone) Area(id string) (Area, bool) {
	a, ok := z.Areas[id]
	return a, ok
}

// Area is a subdivision of a zone. Its Items list is the authoritative
// record of which instances exist at the area, items and NPCs alike; the
// template type decides how each instance is presented.
type Area struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Items       []Instance `json:"items,omitempty"`
	NPC         string     `json:"npc,omitempty"`

	// Exits lists areas reachable from here. Edges are maintained
	// bidirectionally by the admin connect and disconnect verbs.
	Exits []string `json:"exits,omitempty"`

	// CardinalExits maps "north", "south", "east", "west" to area ids.
	CardinalExits map[string]string `json:"cardinal_exits,omitempty"`
}

// Item returns the instance in this area with the given instance id.
func (a Area) Item(instanceID string) (Instance, bool) {
	for _, it := range a.Items {
		if it.InstanceID == instanceID {
			return it, true
		}
	}
	return Instance{}, false
}

// Instance is a runtime entity spawned from a template. An instance lives
// in exactly one container at any moment: an area's item list or a player
// inventory. Identity is preserved across moves; no operation ever mints a
// new instance id for an existing instance.
type Instance struct {
	InstanceID string `json:"instance_id"`
	TemplateID string `json:"template_id"`

	// Type mirrors the template type when denormalized onto the instance.
	Type string `json:"type,omitempty"`

	// Visible gates presence in AOI payloads and outbound deltas.
	// nil means unset, which defaults to visible.
	Visible *bool `json:"visible,omitempty"`

	// Collectible overrides the template's collectible default when set.
	Collectible *bool `json:"collectible,omitempty"`

	// State is an opaque map owned by content; the runtime passes unknown
	// keys through untouched.
	State map[string]any `json:"state,omitempty"`
}

// IsVisible reports whether the instance may appear in AOI payloads and
// outbound deltas. Unset visibility defaults to true.
func (i Instance) IsVisible() bool { return i.Visible == nil || *i.Visible }

// CollectibleOr reports whether the instance can be picked up, falling back
// to the template default when the instance does not override it.
func (i Instance) CollectibleOr(def bool) bool {
	if i.Collectible == nil {
		return def
	}
	return *i.Collectible
}

// PlayerView is the typed read view of the per-(user, experience) record.
// SnapshotVersion is monotonic: every published write increments it by
// exactly one.
type PlayerView struct {
	CurrentLocation string                  `json:"current_location,omitempty"`
	CurrentArea     string                  `json:"current_area,omitempty"`
	Inventory       []Instance              `json:"inventory,omitempty"`
	NPCs            map[string]Relationship `json:"npcs,omitempty"`
	SnapshotVersion uint64                  `json:"snapshot_version"`

	// LastAction is the unix-millisecond timestamp of the player's most
	// recent state-changing action.
	LastAction int64 `json:"last_action,omitempty"`

	// Locations holds the player's private world copy in isolated
	// experiences. Empty in shared experiences.
	Locations map[string]Zone `json:"locations,omitempty"`
}

// InventoryItem returns the inventory instance with the given instance id.
func (v *PlayerView) InventoryItem(instanceID string) (Instance, bool) {
	if v == nil {
		return Instance{}, false
	}
	for _, it := range v.Inventory {
		if it.InstanceID == instanceID {
			return it, true
		}
	}
	return Instance{}, false
}

// RelationshipWith returns the player's relationship with the given NPC,
// or a neutral starting relationship if they have not met.
func (v *PlayerView) RelationshipWith(npcID string) Relationship {
	if v != nil {
		if r, ok := v.NPCs[npcID]; ok {
			return r
		}
	}
	return Relationship{TrustLevel: DefaultTrustLevel}
}

// Trust bounds. TrustLevel is clamped into [MinTrustLevel, MaxTrustLevel]
// on every adjustment.
const (
	MinTrustLevel     = 0
	MaxTrustLevel     = 100
	DefaultTrustLevel = 50
)

// ConversationHistoryLimit bounds the per-NPC conversation ring buffer.
const ConversationHistoryLimit = 20

// Relationship is the per-NPC, per-player social state.
type Relationship struct {
	TrustLevel         int   `json:"trust_level"`
	TotalConversations int   `json:"total_conversations"`
	FirstMet           int64 `json:"first_met,omitempty"`

	// ConversationHistory keeps the most recent turns, truncated to
	// [ConversationHistoryLimit] entries on every write.
	ConversationHistory []ConversationTurn `json:"conversation_history,omitempty"`
}

// ConversationTurn is one utterance in a relationship's history.
type ConversationTurn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation roles.
const (
	RolePlayer = "player"
	RoleNPC    = "npc"
)
