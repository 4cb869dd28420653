package command

import (
	"context"
	"fmt"
	"time"

	"github.com/emberfield/waystone/internal/experience"
)

// handleCollect moves a visible, collectible instance from the player's
// current area into their inventory. The precondition is re-checked by
// the state store under the world lock; a concurrent collector surfaces
// as [state.ErrConflict] and the dispatcher words the loss for us.
func (d *Dispatcher) handleCollect(ctx context.Context, req *Request) (*Result, error) {
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	if res, okPos := requirePosition(s.view, false); !okPos {
		return res, nil
	}
	zoneID := s.view.CurrentLocation
	areaID := req.AreaID
	if areaID == "" {
		areaID = s.view.CurrentArea
	}
	if areaID == "" {
		return fail("You're not inside any area right now. Try going somewhere first."), nil
	}

	record, found := s.findAreaItem(zoneID, areaID, req.ItemID)
	if !found || !recordVisible(record) {
		return fail("There's nothing like that here."), nil
	}
	name := d.recordName(s.exp, record)
	if !d.recordCollectible(s.exp, record) {
		return fail(fmt.Sprintf("The %s can't be picked up.", name)), nil
	}
	if owner := recordOwner(record); owner != "" && owner != req.UserID {
		return fail(fmt.Sprintf("Someone else has already claimed the %s.", name)), nil
	}

	moved := copyRecord(record)
	st := moved["state"].(map[string]any)
	delete(st, "dropped_at")
	st["collected_at"] = time.Now().UnixMilli()
	if s.exp.StateModel == experience.StateShared {
		st["owned_by"] = req.UserID
	}

	res := ok(fmt.Sprintf("You pick up the %s.", name))
	res.StateChanges = mergeUpdates(
		itemsUpdate(zoneID, areaID, map[string]any{
			"$remove": map[string]any{"instance_id": req.ItemID},
		}),
		map[string]any{"inventory": map[string]any{"$append": moved}},
	)
	return res, nil
}

// handleDrop moves an inventory instance into the player's current area.
// Ownership stamps are cleared so another player can pick it up.
func (d *Dispatcher) handleDrop(ctx context.Context, req *Request) (*Result, error) {
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	if res, okPos := requirePosition(s.view, true); !okPos {
		return res, nil
	}
	zoneID, areaID := s.view.CurrentLocation, s.view.CurrentArea

	record, found := d.inventoryRecord(ctx, req, req.ItemID)
	if !found {
		return fail("You're not carrying anything like that."), nil
	}
	name := d.recordName(s.exp, record)

	moved := copyRecord(record)
	st := moved["state"].(map[string]any)
	delete(st, "owned_by")
	delete(st, "collected_at")
	st["dropped_at"] = time.Now().UnixMilli()

	res := ok(fmt.Sprintf("You set down the %s.", name))
	res.StateChanges = mergeUpdates(
		itemsUpdate(zoneID, areaID, map[string]any{"$append": moved}),
		map[string]any{"inventory": map[string]any{
			"$remove": map[string]any{"instance_id": req.ItemID},
		}},
	)
	return res, nil
}

// handleGive hands an inventory instance to a present NPC. The instance
// leaves play; quest bookkeeping belongs to content, not the runtime.
func (d *Dispatcher) handleGive(ctx context.Context, req *Request) (*Result, error) {
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	if res, okPos := requirePosition(s.view, true); !okPos {
		return res, nil
	}
	zoneID, areaID := s.view.CurrentLocation, s.view.CurrentArea

	record, found := d.inventoryRecord(ctx, req, req.ItemID)
	if !found {
		return fail("You're not carrying anything like that."), nil
	}
	if !d.npcPresent(s, zoneID, areaID, req.NPCID) {
		return fail("There's nobody here by that name."), nil
	}
	name := d.recordName(s.exp, record)
	npcName := d.npcName(s.exp, req.NPCID)

	res := ok(fmt.Sprintf("You hand the %s to %s.", name, npcName))
	res.StateChanges = map[string]any{
		"inventory": map[string]any{
			"$remove": map[string]any{"instance_id": req.ItemID},
		},
	}
	res.Metadata = map[string]any{"given_to": req.NPCID}
	return res, nil
}

// inventoryRecord fetches the raw record of an inventory instance from
// the player's view document.
func (d *Dispatcher) inventoryRecord(ctx context.Context, req *Request, instanceID string) (map[string]any, bool) {
	doc, err := d.deps.Store.PlayerViewDoc(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, false
	}
	items, okList := doc.List("inventory")
	if !okList {
		return nil, false
	}
	return findInstance(items, instanceID)
}

// npcName resolves a display name for an NPC id via its template.
func (d *Dispatcher) npcName(exp *experience.Experience, npcID string) string {
	if tpl, err := d.deps.Templates.Get(exp, npcID); err == nil && tpl.Name != "" {
		return tpl.Name
	}
	return npcID
}

// recordOwner extracts the first-interaction ownership stamp, if any.
func recordOwner(record map[string]any) string {
	st, okMap := record["state"].(map[string]any)
	if !okMap {
		return ""
	}
	owner, _ := st["owned_by"].(string)
	return owner
}
