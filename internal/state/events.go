package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/emberfield/waystone/internal/bus"
	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/pkg/wire"
)

// inventoryOpPath is how inventory membership changes are addressed on
// the wire, regardless of where the inventory lives on disk.
const inventoryOpPath = "player.inventory"

// publishUpdate emits one world-update event for a committed write. The
// event is best-effort: the durable files already changed, so a publish
// failure is logged and clients catch up through version comparison.
func (s *Store) publishUpdate(ctx context.Context, exp *experience.Experience, userID string, res *commitResult) {
	frame := wire.WorldUpdateFrame{
		Type:            wire.TypeWorldUpdate,
		Version:         wire.WorldUpdateVersion,
		Experience:      exp.ID,
		UserID:          userID,
		BaseVersion:     res.base,
		SnapshotVersion: res.next,
		Changes:         s.buildOperations(exp, res),
		Timestamp:       time.Now().UnixMilli(),
		Metadata: wire.UpdateMetadata{
			Source:     metadataSource,
			StateModel: string(exp.StateModel),
		},
	}
	if frame.Changes == nil {
		frame.Changes = []wire.Operation{}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("state: encode world update", "experience", exp.ID, "user", userID, "err", err)
		return
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, bus.UserSubject(userID), payload); err != nil {
		slog.Warn("state: world update publish failed",
			"experience", exp.ID, "user", userID, "version", res.next, "err", err)
	}
}

// buildOperations translates the effects of one commit into wire
// operations. Instance-list effects become add/remove/update operations
// with denormalized records; everything else becomes an update carrying
// the post-write value at its path, so replaying the sequence onto a
// replica reproduces the view.
func (s *Store) buildOperations(exp *experience.Experience, res *commitResult) []wire.Operation {
	var ops []wire.Operation
	ops = s.appendEffectOps(ops, exp, res.worldEffects, res.world, false)
	ops = s.appendEffectOps(ops, exp, res.viewEffects, res.view, true)
	return dedupeUpdates(ops)
}

func (s *Store) appendEffectOps(ops []wire.Operation, exp *experience.Experience, effects []Effect, post Document, viewSide bool) []wire.Operation {
	for _, eff := range effects {
		if areaID, ok := itemsPath(eff.Path); ok {
			ops = s.appendItemOps(ops, exp, eff, areaID)
			continue
		}
		if viewSide && eff.Path == "inventory" {
			ops = s.appendInventoryOps(ops, exp, eff)
			continue
		}
		path := eff.Path
		if viewSide && !worldOwnedPath(eff.Path) {
			path = "player." + path
		}
		value, _ := post.Get(eff.Path)
		ops = append(ops, wire.Operation{
			Operation: wire.OpUpdate,
			Path:      path,
			Value:     value,
		})
	}
	return ops
}

// appendItemOps maps effects on an area's instance list. Appends of
// invisible instances stay silent; the flip to visible later is what
// surfaces them, as an add.
func (s *Store) appendItemOps(ops []wire.Operation, exp *experience.Experience, eff Effect, areaID string) []wire.Operation {
	switch eff.Op {
	case OpAppend:
		record, ok := eff.Value.(map[string]any)
		if !ok {
			return ops
		}
		if !instanceFromRecord(record).IsVisible() {
			return ops
		}
		return append(ops, wire.Operation{
			Operation: wire.OpAdd,
			AreaID:    areaID,
			Item:      s.mergedRecord(exp, record),
		})
	case OpRemove:
		for _, record := range eff.Removed {
			id, _ := record["instance_id"].(string)
			tpl, _ := record["template_id"].(string)
			ops = append(ops, wire.Operation{
				Operation:  wire.OpRemove,
				AreaID:     areaID,
				InstanceID: id,
				TemplateID: tpl,
			})
		}
		return ops
	case OpUpdate:
		for _, patch := range eff.Patched {
			if visible, flipped := patch.Fields["visible"].(bool); flipped {
				if visible {
					ops = append(ops, wire.Operation{
						Operation: wire.OpAdd,
						AreaID:    areaID,
						Item:      s.mergedRecord(exp, patch.Element),
					})
				} else {
					tpl, _ := patch.Element["template_id"].(string)
					ops = append(ops, wire.Operation{
						Operation:  wire.OpRemove,
						AreaID:     areaID,
						InstanceID: patch.InstanceID,
						TemplateID: tpl,
					})
				}
				continue
			}
			ops = append(ops, wire.Operation{
				Operation:  wire.OpUpdate,
				Path:       eff.Path,
				InstanceID: patch.InstanceID,
				Value:      patch.Fields,
			})
		}
		return ops
	default:
		return ops
	}
}

func (s *Store) appendInventoryOps(ops []wire.Operation, exp *experience.Experience, eff Effect) []wire.Operation {
	switch eff.Op {
	case OpAppend:
		record, ok := eff.Value.(map[string]any)
		if !ok {
			return ops
		}
		return append(ops, wire.Operation{
			Operation: wire.OpAdd,
			Path:      inventoryOpPath,
			Item:      s.mergedRecord(exp, record),
		})
	case OpRemove:
		for _, record := range eff.Removed {
			id, _ := record["instance_id"].(string)
			tpl, _ := record["template_id"].(string)
			ops = append(ops, wire.Operation{
				Operation:  wire.OpRemove,
				Path:       inventoryOpPath,
				InstanceID: id,
				TemplateID: tpl,
			})
		}
		return ops
	case OpUpdate:
		for _, patch := range eff.Patched {
			ops = append(ops, wire.Operation{
				Operation:  wire.OpUpdate,
				Path:       inventoryOpPath,
				InstanceID: patch.InstanceID,
				Value:      patch.Fields,
			})
		}
		return ops
	default:
		return ops
	}
}

// mergedRecord denormalizes the template onto an instance record for the
// wire. A failed merge falls back to the raw record; a partial event
// beats a dropped one.
func (s *Store) mergedRecord(exp *experience.Experience, record map[string]any) map[string]any {
	if s.merger == nil {
		return record
	}
	merged, err := s.merger.Merge(exp, instanceFromRecord(record))
	if err != nil {
		slog.Warn("state: template merge failed for event",
			"experience", exp.ID, "instance", record["instance_id"], "err", err)
		return record
	}
	return merged
}

func instanceFromRecord(record map[string]any) wire.Instance {
	inst := wire.Instance{}
	inst.InstanceID, _ = record["instance_id"].(string)
	inst.TemplateID, _ = record["template_id"].(string)
	inst.Type, _ = record["type"].(string)
	if v, ok := record["visible"].(bool); ok {
		inst.Visible = wire.Bool(v)
	}
	if c, ok := record["collectible"].(bool); ok {
		inst.Collectible = wire.Bool(c)
	}
	if st, ok := record["state"].(map[string]any); ok {
		inst.State = st
	}
	return inst
}

// worldOwnedPath reports whether a view-side path addresses world
// geography, as isolated views do, and therefore keeps its raw address
// on the wire instead of the player prefix.
func worldOwnedPath(path string) bool {
	return path == "locations" || strings.HasPrefix(path, "locations.")
}

// itemsPath reports whether a path addresses an area's instance list and
// extracts the area id.
func itemsPath(path string) (string, bool) {
	segs := splitPath(path)
	if len(segs) == 5 && segs[0] == "locations" && segs[2] == "areas" && segs[4] == "items" {
		return segs[3], true
	}
	return "", false
}

// dedupeUpdates collapses repeated whole-path updates (an $append
// followed by a $limit on the same list, say) down to the final value.
func dedupeUpdates(ops []wire.Operation) []wire.Operation {
	if len(ops) < 2 {
		return ops
	}
	out := make([]wire.Operation, 0, len(ops))
	index := make(map[string]int)
	for _, op := range ops {
		if op.Operation == wire.OpUpdate && op.Path != "" && op.InstanceID == "" {
			if at, ok := index[op.Path]; ok {
				out[at] = op
				continue
			}
			index[op.Path] = len(out)
		}
		out = append(out, op)
	}
	return out
}
