package command

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/emberfield/waystone/pkg/wire"
)

// adminIDPattern bounds operator-supplied ids the same way authored
// content ids are bounded.
var adminIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// opposites pairs each cardinal direction with its reverse for
// bidirectional edge maintenance.
var opposites = map[string]string{
	"north": "south", "south": "north",
	"east": "west", "west": "east",
}

// handleAdminCreate adds a zone, an area, or a spawned instance.
func (d *Dispatcher) handleAdminCreate(ctx context.Context, req *Request) (*Result, error) {
	args := req.Args
	if len(args) < 2 {
		return fail("Usage: @create <location <id>|sublocation <location> <id>|instance <location> <sublocation> <template>>"), nil
	}
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case isZoneWord(args[0]):
		id := args[1]
		if !adminIDPattern.MatchString(id) {
			return fail(fmt.Sprintf("%q is not a valid id.", id)), nil
		}
		if _, exists := s.world.Map("locations." + id); exists {
			return fail(fmt.Sprintf("Location %q already exists.", id)), nil
		}
		record := map[string]any{"id": id, "areas": map[string]any{}}
		if name := strings.Join(args[2:], " "); name != "" {
			record["name"] = name
		}
		res := ok(fmt.Sprintf("Location %s created.", id))
		res.StateChanges = map[string]any{
			"locations": map[string]any{id: map[string]any{"$set": record}},
		}
		return res, nil

	case isAreaWord(args[0]):
		if len(args) < 3 {
			return fail("Usage: @create sublocation <location> <id> [name]"), nil
		}
		zoneID, id := args[1], args[2]
		if !adminIDPattern.MatchString(id) {
			return fail(fmt.Sprintf("%q is not a valid id.", id)), nil
		}
		if _, exists := s.world.Map("locations." + zoneID); !exists {
			return fail(fmt.Sprintf("No location %q here.", zoneID)), nil
		}
		if _, exists := s.world.Map("locations." + zoneID + ".areas." + id); exists {
			return fail(fmt.Sprintf("Sublocation %q already exists in %q.", id, zoneID)), nil
		}
		record := map[string]any{"id": id, "items": []any{}}
		if name := strings.Join(args[3:], " "); name != "" {
			record["name"] = name
		}
		res := ok(fmt.Sprintf("Sublocation %s/%s created.", zoneID, id))
		res.StateChanges = map[string]any{
			"locations": map[string]any{zoneID: map[string]any{
				"areas": map[string]any{id: map[string]any{"$set": record}},
			}},
		}
		return res, nil

	case args[0] == "instance":
		if len(args) < 4 {
			return fail("Usage: @create instance <location> <sublocation> <template> [instance_id]"), nil
		}
		zoneID, areaID, tplID := args[1], args[2], args[3]
		if _, exists := s.world.Map("locations." + zoneID + ".areas." + areaID); !exists {
			return fail(fmt.Sprintf("No sublocation %q in %q.", areaID, zoneID)), nil
		}
		tpl, tplErr := d.deps.Templates.Get(s.exp, tplID)
		if tplErr != nil {
			return fail(fmt.Sprintf("No template %q in this experience.", tplID)), nil
		}
		instanceID := tplID + "_" + uuid.NewString()[:8]
		if len(args) >= 5 {
			instanceID = args[4]
			if !adminIDPattern.MatchString(instanceID) {
				return fail(fmt.Sprintf("%q is not a valid instance id.", instanceID)), nil
			}
		}
		if _, exists := s.findAreaItem(zoneID, areaID, instanceID); exists {
			return fail(fmt.Sprintf("Instance %q already exists there.", instanceID)), nil
		}
		record := map[string]any{
			"instance_id": instanceID,
			"template_id": tplID,
			"type":        tpl.Type,
			"state":       map[string]any{},
		}
		res := ok(fmt.Sprintf("Instance %s spawned at %s/%s.", instanceID, zoneID, areaID))
		res.StateChanges = itemsUpdate(zoneID, areaID, map[string]any{"$append": record})
		return res, nil
	}

	return fail("Usage: @create <location|sublocation|instance> ..."), nil
}

// handleAdminEdit sets one field on a zone, area, or instance, with
// field-specific validation.
func (d *Dispatcher) handleAdminEdit(ctx context.Context, req *Request) (*Result, error) {
	args := req.Args
	if len(args) < 4 {
		return fail("Usage: @edit <location|sublocation|instance> <id...> <field> <value>"), nil
	}
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case isZoneWord(args[0]):
		zoneID, field, value := args[1], args[2], strings.Join(args[3:], " ")
		if _, exists := s.world.Map("locations." + zoneID); !exists {
			return fail(fmt.Sprintf("No location %q here.", zoneID)), nil
		}
		leaf, verr := d.zoneFieldLeaf(s, field, value)
		if verr != "" {
			return fail(verr), nil
		}
		res := ok(fmt.Sprintf("Location %s: %s updated.", zoneID, field))
		res.StateChanges = map[string]any{
			"locations": map[string]any{zoneID: leaf},
		}
		return res, nil

	case isAreaWord(args[0]):
		if len(args) < 5 {
			return fail("Usage: @edit sublocation <location> <sublocation> <field> <value>"), nil
		}
		zoneID, areaID, field, value := args[1], args[2], args[3], strings.Join(args[4:], " ")
		if _, exists := s.world.Map("locations." + zoneID + ".areas." + areaID); !exists {
			return fail(fmt.Sprintf("No sublocation %q in %q.", areaID, zoneID)), nil
		}
		leaf, verr := d.areaFieldLeaf(s, field, value)
		if verr != "" {
			return fail(verr), nil
		}
		res := ok(fmt.Sprintf("Sublocation %s/%s: %s updated.", zoneID, areaID, field))
		res.StateChanges = map[string]any{
			"locations": map[string]any{zoneID: map[string]any{
				"areas": map[string]any{areaID: leaf},
			}},
		}
		return res, nil

	case args[0] == "instance":
		if len(args) < 6 {
			return fail("Usage: @edit instance <location> <sublocation> <instance_id> <field> <value>"), nil
		}
		zoneID, areaID, instanceID, field, value := args[1], args[2], args[3], args[4], args[5]
		if _, found := s.findAreaItem(zoneID, areaID, instanceID); !found {
			return fail(fmt.Sprintf("No instance %q at %s/%s.", instanceID, zoneID, areaID)), nil
		}
		if field != "visible" && field != "collectible" {
			return fail("Editable instance fields: visible, collectible."), nil
		}
		b, perr := strconv.ParseBool(value)
		if perr != nil {
			return fail(fmt.Sprintf("%s takes true or false, got %q.", field, value)), nil
		}
		res := ok(fmt.Sprintf("Instance %s: %s set to %v.", instanceID, field, b))
		res.StateChanges = itemsUpdate(zoneID, areaID, map[string]any{
			"$update": []any{map[string]any{"instance_id": instanceID, field: b}},
		})
		return res, nil
	}

	return fail("Usage: @edit <location|sublocation|instance> <id...> <field> <value>"), nil
}

// zoneFieldLeaf validates one zone field edit and returns its operator
// leaf, or a player-facing validation message.
func (d *Dispatcher) zoneFieldLeaf(s *scene, field, value string) (map[string]any, string) {
	switch field {
	case "name", "description":
		return map[string]any{field: map[string]any{"$set": value}}, ""
	case "npc":
		if msg := d.checkNPCRef(s, value); msg != "" {
			return nil, msg
		}
		return map[string]any{"npc": map[string]any{"$set": value}}, ""
	case "gps":
		gps, msg := parseGPS(value)
		if msg != "" {
			return nil, msg
		}
		return map[string]any{"gps": map[string]any{"$set": gps}}, ""
	}
	return nil, "Editable location fields: name, description, npc, gps."
}

func (d *Dispatcher) areaFieldLeaf(s *scene, field, value string) (map[string]any, string) {
	switch field {
	case "name", "description":
		return map[string]any{field: map[string]any{"$set": value}}, ""
	case "npc":
		if msg := d.checkNPCRef(s, value); msg != "" {
			return nil, msg
		}
		return map[string]any{"npc": map[string]any{"$set": value}}, ""
	case "exits":
		return nil, "Exits are maintained with @connect and @disconnect."
	}
	return nil, "Editable sublocation fields: name, description, npc."
}

// checkNPCRef enforces referential integrity: an npc field must point at
// an npc-typed template of this experience. Empty clears the field.
func (d *Dispatcher) checkNPCRef(s *scene, npcID string) string {
	if npcID == "" {
		return ""
	}
	tpl, err := d.deps.Templates.Get(s.exp, npcID)
	if err != nil {
		return fmt.Sprintf("No template %q in this experience.", npcID)
	}
	if tpl.Type != wire.InstanceTypeNPC {
		return fmt.Sprintf("%q is a %s template, not an npc.", npcID, tpl.Type)
	}
	return ""
}

// parseGPS parses "lat,lng" with WGS84 range validation.
func parseGPS(value string) (map[string]any, string) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return nil, `gps takes "lat,lng", e.g. "52.379,4.900".`
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLng != nil {
		return nil, `gps takes "lat,lng", e.g. "52.379,4.900".`
	}
	if lat < -90 || lat > 90 {
		return nil, fmt.Sprintf("latitude %v out of range [-90, 90].", lat)
	}
	if lng < -180 || lng > 180 {
		return nil, fmt.Sprintf("longitude %v out of range [-180, 180].", lng)
	}
	return map[string]any{"lat": lat, "lng": lng}, ""
}

// handleAdminDelete removes a zone, an area, or an instance. CONFIRM
// gated; without it the handler previews what would happen. Deleting an
// area also scrubs it from every peer's exits.
func (d *Dispatcher) handleAdminDelete(ctx context.Context, req *Request) (*Result, error) {
	args, confirmed := splitConfirm(req.Args)
	if len(args) < 2 {
		return fail("Usage: @delete <location <id>|sublocation <location> <id>|instance <location> <sublocation> <id>> CONFIRM"), nil
	}
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case isZoneWord(args[0]):
		zoneID := args[1]
		locations, _ := s.world.Map("locations")
		if _, exists := locations[zoneID]; !exists {
			return fail(fmt.Sprintf("No location %q here.", zoneID)), nil
		}
		if !confirmed {
			return ok(fmt.Sprintf("This permanently removes location %s and everything in it. Repeat as: @delete location %s CONFIRM", zoneID, zoneID)), nil
		}
		delete(locations, zoneID)
		res := ok(fmt.Sprintf("Location %s deleted.", zoneID))
		res.StateChanges = map[string]any{
			"locations": map[string]any{"$set": locations},
		}
		return res, nil

	case isAreaWord(args[0]):
		if len(args) < 3 {
			return fail("Usage: @delete sublocation <location> <sublocation> CONFIRM"), nil
		}
		zoneID, areaID := args[1], args[2]
		areas, found := s.world.Map("locations." + zoneID + ".areas")
		if !found {
			return fail(fmt.Sprintf("No location %q here.", zoneID)), nil
		}
		if _, exists := areas[areaID]; !exists {
			return fail(fmt.Sprintf("No sublocation %q in %q.", areaID, zoneID)), nil
		}
		if !confirmed {
			return ok(fmt.Sprintf("This permanently removes %s/%s and everything in it. Repeat as: @delete sublocation %s %s CONFIRM", zoneID, areaID, zoneID, areaID)), nil
		}
		delete(areas, areaID)
		scrubExits(areas, areaID)
		res := ok(fmt.Sprintf("Sublocation %s/%s deleted.", zoneID, areaID))
		res.StateChanges = map[string]any{
			"locations": map[string]any{zoneID: map[string]any{
				"areas": map[string]any{"$set": areas},
			}},
		}
		return res, nil

	case args[0] == "instance":
		if len(args) < 4 {
			return fail("Usage: @delete instance <location> <sublocation> <id> CONFIRM"), nil
		}
		zoneID, areaID, instanceID := args[1], args[2], args[3]
		if _, found := s.findAreaItem(zoneID, areaID, instanceID); !found {
			return fail(fmt.Sprintf("No instance %q at %s/%s.", instanceID, zoneID, areaID)), nil
		}
		if !confirmed {
			return ok(fmt.Sprintf("This permanently removes instance %s. Repeat as: @delete instance %s %s %s CONFIRM", instanceID, zoneID, areaID, instanceID)), nil
		}
		res := ok(fmt.Sprintf("Instance %s deleted.", instanceID))
		res.StateChanges = itemsUpdate(zoneID, areaID, map[string]any{
			"$remove": map[string]any{"instance_id": instanceID},
		})
		return res, nil
	}

	return fail("Usage: @delete <location|sublocation|instance> <id...> CONFIRM"), nil
}

// scrubExits removes every reference to the deleted area from the
// remaining areas' exits lists and cardinal tables.
func scrubExits(areas map[string]any, deletedID string) {
	for _, v := range areas {
		area, isMap := v.(map[string]any)
		if !isMap {
			continue
		}
		if exits, has := area["exits"].([]any); has {
			kept := make([]any, 0, len(exits))
			for _, e := range exits {
				if e != deletedID {
					kept = append(kept, e)
				}
			}
			area["exits"] = kept
		}
		if cardinal, has := area["cardinal_exits"].(map[string]any); has {
			for dir, dest := range cardinal {
				if dest == deletedID {
					delete(cardinal, dir)
				}
			}
		}
	}
}

// handleAdminConnect links two areas bidirectionally, optionally also
// installing a cardinal direction and its opposite on the peer.
func (d *Dispatcher) handleAdminConnect(ctx context.Context, req *Request) (*Result, error) {
	args := req.Args
	if len(args) < 3 {
		return fail("Usage: @connect <location> <sublocation> <sublocation> [north|south|east|west]"), nil
	}
	zoneID, fromID, toID := args[0], args[1], args[2]
	var direction string
	if len(args) >= 4 {
		direction = strings.ToLower(args[3])
		if _, known := opposites[direction]; !known {
			return fail(fmt.Sprintf("%q is not a cardinal direction.", args[3])), nil
		}
	}
	if fromID == toID {
		return fail("A sublocation can't connect to itself."), nil
	}

	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	from, foundFrom := s.world.Map("locations." + zoneID + ".areas." + fromID)
	to, foundTo := s.world.Map("locations." + zoneID + ".areas." + toID)
	if !foundFrom || !foundTo {
		return fail(fmt.Sprintf("Both sublocations must exist in %q.", zoneID)), nil
	}

	fromLeaf := map[string]any{"exits": map[string]any{"$set": withExit(from, toID)}}
	toLeaf := map[string]any{"exits": map[string]any{"$set": withExit(to, fromID)}}
	if direction != "" {
		fromLeaf["cardinal_exits"] = map[string]any{"$set": withCardinal(from, direction, toID)}
		toLeaf["cardinal_exits"] = map[string]any{"$set": withCardinal(to, opposites[direction], fromID)}
	}

	res := ok(fmt.Sprintf("Connected %s and %s.", fromID, toID))
	res.StateChanges = map[string]any{
		"locations": map[string]any{zoneID: map[string]any{
			"areas": map[string]any{fromID: fromLeaf, toID: toLeaf},
		}},
	}
	return res, nil
}

// handleAdminDisconnect severs both directions of an edge, including any
// cardinal entries pointing across it.
func (d *Dispatcher) handleAdminDisconnect(ctx context.Context, req *Request) (*Result, error) {
	args := req.Args
	if len(args) < 3 {
		return fail("Usage: @disconnect <location> <sublocation> <sublocation>"), nil
	}
	zoneID, fromID, toID := args[0], args[1], args[2]

	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	from, foundFrom := s.world.Map("locations." + zoneID + ".areas." + fromID)
	to, foundTo := s.world.Map("locations." + zoneID + ".areas." + toID)
	if !foundFrom || !foundTo {
		return fail(fmt.Sprintf("Both sublocations must exist in %q.", zoneID)), nil
	}

	res := ok(fmt.Sprintf("Disconnected %s and %s.", fromID, toID))
	res.StateChanges = map[string]any{
		"locations": map[string]any{zoneID: map[string]any{
			"areas": map[string]any{
				fromID: map[string]any{
					"exits":          map[string]any{"$set": withoutExit(from, toID)},
					"cardinal_exits": map[string]any{"$set": withoutCardinal(from, toID)},
				},
				toID: map[string]any{
					"exits":          map[string]any{"$set": withoutExit(to, fromID)},
					"cardinal_exits": map[string]any{"$set": withoutCardinal(to, fromID)},
				},
			},
		}},
	}
	return res, nil
}

func exitList(area map[string]any) []any {
	exits, _ := area["exits"].([]any)
	return exits
}

func withExit(area map[string]any, id string) []any {
	exits := exitList(area)
	for _, e := range exits {
		if e == id {
			return exits
		}
	}
	return append(append([]any{}, exits...), id)
}

func withoutExit(area map[string]any, id string) []any {
	kept := []any{}
	for _, e := range exitList(area) {
		if e != id {
			kept = append(kept, e)
		}
	}
	return kept
}

func withCardinal(area map[string]any, direction, id string) map[string]any {
	out := map[string]any{}
	if cardinal, has := area["cardinal_exits"].(map[string]any); has {
		for k, v := range cardinal {
			out[k] = v
		}
	}
	out[direction] = id
	return out
}

func withoutCardinal(area map[string]any, id string) map[string]any {
	out := map[string]any{}
	if cardinal, has := area["cardinal_exits"].(map[string]any); has {
		for k, v := range cardinal {
			if v != id {
				out[k] = v
			}
		}
	}
	return out
}
