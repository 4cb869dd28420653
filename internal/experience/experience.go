// Package experience loads and caches experience configurations.
//
// An experience is the unit of content deployment: one themed world with
// its own state model, bootstrap data, and content tree. Configurations
// are authored offline, loaded on first access, and cached until an admin
// reload or a config change invalidates them.
package experience

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/emberfield/waystone/pkg/wire"
)

// ErrNotFound is returned when no configuration exists for an experience id.
var ErrNotFound = errors.New("experience: not found")

// StateModel selects how world state is shared between players.
type StateModel string

const (
	// StateShared keeps one authoritative world per experience; all players
	// mutate the same snapshot under an exclusive lock.
	StateShared StateModel = "shared"

	// StateIsolated gives every player a private world copy inside their
	// player view.
	StateIsolated StateModel = "isolated"
)

// IsValid reports whether m is a recognised state model.
func (m StateModel) IsValid() bool {
	return m == StateShared || m == StateIsolated
}

// Experience is one experience's configuration record.
type Experience struct {
	// ID identifies the experience; it doubles as the directory name in
	// the content tree.
	ID string `json:"experience_id"`

	// Name is the human-readable title.
	Name string `json:"name,omitempty"`

	// Description is shown by admin tooling; never sent to players.
	Description string `json:"description,omitempty"`

	// StateModel selects shared or isolated world state.
	StateModel StateModel `json:"state_model"`

	// Bootstrap seeds a player view on first connect.
	Bootstrap Bootstrap `json:"bootstrap"`

	// Capabilities flags what the experience supports (gps_based,
	// ar_enabled, multiplayer, ...). Unknown flags pass through.
	Capabilities map[string]bool `json:"capabilities,omitempty"`

	// ContentPaths locates content subdirectories inside the experience
	// directory. Empty fields use the conventional defaults.
	ContentPaths ContentPaths `json:"content_paths,omitempty"`

	// GeofenceRadiusM overrides the default zone match radius in meters.
	GeofenceRadiusM float64 `json:"geofence_radius_m,omitempty"`

	// Geographies lists extra GPS anchors beyond the zones' own
	// coordinates, e.g. regional waypoints produced by authoring tools.
	Geographies []wire.Geography `json:"geographies,omitempty"`
}

// Bootstrap is the initial state granted to a new player view.
type Bootstrap struct {
	// StartingLocation is the zone id a fresh player begins in.
	StartingLocation string `json:"starting_location"`

	// StartingArea optionally places the player inside an area as well.
	StartingArea string `json:"starting_area,omitempty"`

	// StartingInventory seeds the player inventory.
	StartingInventory []wire.Instance `json:"starting_inventory,omitempty"`
}

// ContentPaths locates content subdirectories relative to the experience
// directory.
type ContentPaths struct {
	Templates string `json:"templates,omitempty"`
	State     string `json:"state,omitempty"`
}

// Conventional content subdirectories.
const (
	DefaultTemplatesDir = "templates"
	DefaultStateDir     = "state"
)

// TemplatesDir returns the configured templates subdirectory or its default.
func (p ContentPaths) TemplatesDir() string {
	if p.Templates != "" {
		return p.Templates
	}
	return DefaultTemplatesDir
}

// StateDir returns the configured state subdirectory or its default.
func (p ContentPaths) StateDir() string {
	if p.State != "" {
		return p.State
	}
	return DefaultStateDir
}

// Multiplayer reports whether more than one player may share the world.
func (e *Experience) Multiplayer() bool {
	return e.Capabilities["multiplayer"]
}

// idPattern constrains experience ids to directory-safe names.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidID reports whether id is a well-formed experience id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks the loaded record for coherence.
func (e *Experience) Validate() error {
	var errs []error

	if !ValidID(e.ID) {
		errs = append(errs, fmt.Errorf("experience_id %q is not a valid id", e.ID))
	}
	if e.StateModel != "" && !e.StateModel.IsValid() {
		errs = append(errs, fmt.Errorf("state_model %q is invalid; valid values: shared, isolated", e.StateModel))
	}
	if e.Bootstrap.StartingLocation == "" {
		errs = append(errs, errors.New("bootstrap.starting_location is required"))
	}
	if e.GeofenceRadiusM < 0 {
		errs = append(errs, fmt.Errorf("geofence_radius_m must be positive, got %v", e.GeofenceRadiusM))
	}
	for i, g := range e.Geographies {
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("geographies[%d].id is required", i))
		}
	}

	return errors.Join(errs...)
}
