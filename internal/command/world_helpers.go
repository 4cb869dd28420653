package command

import (
	"context"
	"encoding/json"

	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/internal/state"
	"github.com/emberfield/waystone/pkg/wire"
)

// scene bundles the reads most handlers start from: the experience, the
// typed player view, and the raw world document the player acts in. Raw
// documents preserve authored fields outside the typed schema, which
// matters because moves must transfer instance records intact.
type scene struct {
	exp   *experience.Experience
	view  *wire.PlayerView
	world state.Document
}

// loadScene resolves the acting player's surroundings. In isolated
// experiences the "world" document is the player's own view; the
// locations tree inside it has the same shape either way.
func (d *Dispatcher) loadScene(ctx context.Context, req *Request) (*scene, error) {
	exp, err := d.deps.Store.Experience(req.Experience)
	if err != nil {
		return nil, err
	}
	view, err := d.deps.Store.PlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}
	var world state.Document
	if exp.StateModel == experience.StateIsolated {
		world, err = d.deps.Store.PlayerViewDoc(ctx, req.Experience, req.UserID)
	} else {
		world, err = d.deps.Store.WorldDoc(ctx, req.Experience)
	}
	if err != nil {
		return nil, err
	}
	return &scene{exp: exp, view: view, world: world}, nil
}

// typedWorld decodes the scene's locations into the typed read model.
func (s *scene) typedWorld() wire.World {
	doc := state.Document{}
	if locations, ok := s.world.Map("locations"); ok {
		doc["locations"] = locations
	}
	var world wire.World
	// Errors here mean authored content that does not match the schema;
	// the typed view just comes back empty and handlers report "nothing
	// here" instead of crashing.
	_ = reencode(doc, &world)
	return world
}

// areaItems returns the raw instance list at a zone/area address.
func (s *scene) areaItems(zoneID, areaID string) ([]any, bool) {
	return s.world.List("locations." + zoneID + ".areas." + areaID + ".items")
}

// findAreaItem returns the raw record of an instance inside an area.
func (s *scene) findAreaItem(zoneID, areaID, instanceID string) (map[string]any, bool) {
	items, ok := s.areaItems(zoneID, areaID)
	if !ok {
		return nil, false
	}
	return findInstance(items, instanceID)
}

// findInstance scans a raw instance list for an instance id.
func findInstance(items []any, instanceID string) (map[string]any, bool) {
	for _, it := range items {
		m, ok := it.(map[string]any)
		if ok && m["instance_id"] == instanceID {
			return m, true
		}
	}
	return nil, false
}

// recordVisible mirrors wire.Instance.IsVisible for raw records.
func recordVisible(record map[string]any) bool {
	v, ok := record["visible"].(bool)
	return !ok || v
}

// recordCollectible resolves the collectible flag: instance override
// first, template default second.
func (d *Dispatcher) recordCollectible(exp *experience.Experience, record map[string]any) bool {
	if c, ok := record["collectible"].(bool); ok {
		return c
	}
	tplID, _ := record["template_id"].(string)
	tpl, err := d.deps.Templates.Get(exp, tplID)
	if err != nil {
		return false
	}
	return tpl.Collectible
}

// recordName resolves a display name: instance record first, template
// second, instance id last.
func (d *Dispatcher) recordName(exp *experience.Experience, record map[string]any) string {
	if name, ok := record["name"].(string); ok && name != "" {
		return name
	}
	tplID, _ := record["template_id"].(string)
	if tpl, err := d.deps.Templates.Get(exp, tplID); err == nil && tpl.Name != "" {
		return tpl.Name
	}
	id, _ := record["instance_id"].(string)
	return id
}

// copyRecord clones an instance record one level deep, with its state map
// cloned as well so handlers can stamp fields without mutating the read
// snapshot.
func copyRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	state := make(map[string]any)
	if st, ok := record["state"].(map[string]any); ok {
		for k, v := range st {
			state[k] = v
		}
	}
	out["state"] = state
	return out
}

// itemsUpdate builds the update tree addressing an area's instance list.
func itemsUpdate(zoneID, areaID string, leaf map[string]any) map[string]any {
	return map[string]any{
		"locations": map[string]any{
			zoneID: map[string]any{
				"areas": map[string]any{
					areaID: map[string]any{
						"items": leaf,
					},
				},
			},
		},
	}
}

// mergeUpdates folds src into dst, merging plain nested objects. Operator
// leaves are never split across handlers, so a shallow recursive merge is
// enough.
func mergeUpdates(dst, src map[string]any) map[string]any {
	if dst == nil {
		return src
	}
	for k, v := range src {
		dstChild, dstOk := dst[k].(map[string]any)
		srcChild, srcOk := v.(map[string]any)
		if dstOk && srcOk {
			dst[k] = mergeUpdates(dstChild, srcChild)
			continue
		}
		dst[k] = v
	}
	return dst
}

// npcPresent reports whether an NPC is reachable from the player's
// position: pinned on the current area, standing in its item list, or
// pinned on the zone itself.
func (d *Dispatcher) npcPresent(s *scene, zoneID, areaID, npcID string) bool {
	world := s.typedWorld()
	zone, ok := world.Zone(zoneID)
	if !ok {
		return false
	}
	if zone.NPC == npcID {
		return true
	}
	area, ok := zone.Area(areaID)
	if !ok {
		return false
	}
	if area.NPC == npcID {
		return true
	}
	for _, inst := range area.Items {
		if !inst.IsVisible() {
			continue
		}
		if inst.InstanceID == npcID || inst.TemplateID == npcID {
			tpl, err := d.deps.Templates.Get(s.exp, inst.TemplateID)
			if err == nil && tpl.Type == wire.InstanceTypeNPC {
				return true
			}
		}
	}
	return false
}

// requirePosition checks the player has arrived somewhere. The zone is
// always required; needArea additionally requires an area.
func requirePosition(view *wire.PlayerView, needArea bool) (*Result, bool) {
	if view.CurrentLocation == "" {
		return fail("You haven't arrived anywhere yet. Send your location first."), false
	}
	if needArea && view.CurrentArea == "" {
		return fail("You're not inside any area right now. Try going somewhere first."), false
	}
	return nil, true
}

// reencode converts between raw documents and typed values through their
// JSON forms.
func reencode(from, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, to)
}
