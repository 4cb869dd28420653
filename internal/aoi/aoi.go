// Package aoi composes the area-of-interest payload answering a location
// update.
//
// The builder is a pure read path: it merges the world snapshot (or the
// player's private world in isolated experiences), the template registry,
// and the player view into one payload addressed to the client's GPS
// position. Finding no zone in range is a normal answer carried as a null
// zone, never an error.
package aoi

import (
	"context"
	"log/slog"

	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/internal/geo"
	"github.com/emberfield/waystone/internal/state"
	"github.com/emberfield/waystone/internal/template"
	"github.com/emberfield/waystone/pkg/wire"
)

// Builder composes AOI payloads from the store, the template registry, and
// GPS anchors.
type Builder struct {
	store     *state.Store
	templates *template.Registry
}

// NewBuilder wires the builder to its collaborators.
func NewBuilder(store *state.Store, templates *template.Registry) *Builder {
	return &Builder{store: store, templates: templates}
}

// Build returns the area_of_interest frame for a user at pos. The snapshot
// version is stamped from the player view as of this read; concurrent
// writes may already have advanced it, which clients reconcile through the
// version on the next delta.
func (b *Builder) Build(ctx context.Context, experienceID, userID string, pos wire.GPS) (*wire.AOIFrame, error) {
	exp, err := b.store.Experience(experienceID)
	if err != nil {
		return nil, err
	}
	view, err := b.store.PlayerView(ctx, experienceID, userID)
	if err != nil {
		return nil, err
	}
	world, err := b.worldFor(ctx, exp, view)
	if err != nil {
		return nil, err
	}

	frame := &wire.AOIFrame{
		Type:            wire.TypeAreaOfInterest,
		SnapshotVersion: view.SnapshotVersion,
		Areas:           map[string]wire.AreaRecord{},
		Player:          b.playerRecord(exp, view),
	}

	zoneID, ok := b.nearestZone(exp, world, pos)
	if !ok {
		return frame, nil
	}
	zone, ok := world.Zone(zoneID)
	if !ok {
		// Anchor without a world record, e.g. an authored waypoint for a
		// zone that has not shipped yet.
		slog.Debug("aoi: anchor has no zone", "experience", exp.ID, "zone", zoneID)
		return frame, nil
	}

	frame.Zone = &wire.ZoneRecord{
		ID:          zoneID,
		Name:        zone.Name,
		Description: zone.Description,
		GPS:         zone.GPS,
	}
	for areaID, area := range zone.Areas {
		frame.Areas[areaID] = b.areaRecord(exp, areaID, area)
	}
	return frame, nil
}

// worldFor selects the zone source: the shared snapshot, or the player's
// private copy in isolated experiences.
func (b *Builder) worldFor(ctx context.Context, exp *experience.Experience, view *wire.PlayerView) (*wire.World, error) {
	if exp.StateModel == experience.StateIsolated {
		return &wire.World{Locations: view.Locations}, nil
	}
	return b.store.WorldState(ctx, exp.ID)
}

// nearestZone picks the closest in-range zone anchor. Zones carry their
// own GPS; authored geographies supply extra anchors, e.g. waypoints that
// extend a zone's reach.
func (b *Builder) nearestZone(exp *experience.Experience, world *wire.World, pos wire.GPS) (string, bool) {
	anchors := make([]wire.Geography, 0, len(world.Locations)+len(exp.Geographies))
	for zoneID, zone := range world.Locations {
		if zone.GPS == nil {
			continue
		}
		anchors = append(anchors, wire.Geography{ID: zoneID, Lat: zone.GPS.Lat, Lng: zone.GPS.Lng})
	}
	anchors = append(anchors, exp.Geographies...)

	match, ok := geo.Nearest(anchors, pos, exp.GeofenceRadiusM)
	if !ok {
		return "", false
	}
	return match.Geography.ID, true
}

// areaRecord builds one area with its visible instances routed into items
// or npcs by template type. Instances whose template is missing are
// skipped; a content gap must not take down the whole payload.
func (b *Builder) areaRecord(exp *experience.Experience, areaID string, area wire.Area) wire.AreaRecord {
	rec := wire.AreaRecord{
		ID:          areaID,
		Name:        area.Name,
		Description: area.Description,
		Items:       []map[string]any{},
		NPCs:        []map[string]any{},
	}
	for _, inst := range area.Items {
		if !inst.IsVisible() {
			continue
		}
		tpl, err := b.templates.Get(exp, inst.TemplateID)
		if err != nil {
			slog.Warn("aoi: template missing, instance skipped",
				"experience", exp.ID, "area", areaID,
				"instance", inst.InstanceID, "template", inst.TemplateID)
			continue
		}
		merged := template.MergeRecord(inst, tpl)
		switch tpl.Type {
		case wire.InstanceTypeNPC:
			rec.NPCs = append(rec.NPCs, merged)
		default:
			rec.Items = append(rec.Items, merged)
		}
	}
	return rec
}

// playerRecord summarizes the player's own state. Inventory records are
// denormalized the same way area items are; an unresolvable template falls
// back to the bare instance so the item never vanishes from its owner.
func (b *Builder) playerRecord(exp *experience.Experience, view *wire.PlayerView) wire.PlayerRecord {
	rec := wire.PlayerRecord{
		CurrentLocation: view.CurrentLocation,
		Inventory:       []map[string]any{},
	}
	if view.CurrentArea != "" {
		area := view.CurrentArea
		rec.CurrentArea = &area
	}
	for _, inst := range view.Inventory {
		merged, err := b.templates.Merge(exp, inst)
		if err != nil {
			merged = map[string]any{
				"instance_id": inst.InstanceID,
				"template_id": inst.TemplateID,
			}
		}
		rec.Inventory = append(rec.Inventory, merged)
	}
	return rec
}
