package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Admin argument vocabulary. The wire protocol talks about zones and
// areas; the admin grammar keeps the authoring-era location/sublocation
// names as synonyms because that is what operators type.
const confirmToken = "CONFIRM"

func isZoneWord(w string) bool { return w == "location" || w == "zone" }
func isAreaWord(w string) bool { return w == "sublocation" || w == "area" }

// splitConfirm strips the literal CONFIRM token from an argument list and
// reports whether it was present.
func splitConfirm(args []string) ([]string, bool) {
	out := make([]string, 0, len(args))
	confirmed := false
	for _, a := range args {
		if a == confirmToken {
			confirmed = true
			continue
		}
		out = append(out, a)
	}
	return out, confirmed
}

// handleAdminList enumerates experiences, zones, or a zone's areas.
func (d *Dispatcher) handleAdminList(ctx context.Context, req *Request) (*Result, error) {
	args := req.Args
	kind := "locations"
	if len(args) > 0 {
		kind = args[0]
	}

	switch {
	case kind == "experiences":
		ids, err := d.deps.Store.Experiences().List()
		if err != nil {
			return nil, err
		}
		sort.Strings(ids)
		return ok("Experiences: " + joinOrNone(ids)), nil

	case isZoneWord(strings.TrimSuffix(kind, "s")) || kind == "locations" || kind == "zones":
		s, err := d.loadScene(ctx, req)
		if err != nil {
			return nil, err
		}
		world := s.typedWorld()
		ids := make([]string, 0, len(world.Locations))
		for id := range world.Locations {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ok("Locations: " + joinOrNone(ids)), nil

	case isAreaWord(strings.TrimSuffix(kind, "s")) || kind == "sublocations" || kind == "areas":
		if len(args) < 2 {
			return fail("Usage: @list sublocations <location>"), nil
		}
		s, err := d.loadScene(ctx, req)
		if err != nil {
			return nil, err
		}
		world := s.typedWorld()
		zone, found := world.Zone(args[1])
		if !found {
			return fail(fmt.Sprintf("No location %q here.", args[1])), nil
		}
		ids := make([]string, 0, len(zone.Areas))
		for id := range zone.Areas {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ok(fmt.Sprintf("Sublocations of %s: %s", args[1], joinOrNone(ids))), nil
	}

	return fail("Usage: @list [experiences|locations|sublocations <location>]"), nil
}

// handleAdminInspect dumps one record: a zone, an area, an instance, or a
// player view. The raw record rides in metadata; the message is a short
// summary.
func (d *Dispatcher) handleAdminInspect(ctx context.Context, req *Request) (*Result, error) {
	args := req.Args
	if len(args) < 2 {
		return fail("Usage: @inspect <location|sublocation|instance|player> <id...>"), nil
	}

	if args[0] == "player" {
		view, err := d.deps.Store.PlayerView(ctx, req.Experience, args[1])
		if err != nil {
			return nil, err
		}
		res := ok(fmt.Sprintf("Player %s: location=%s area=%s inventory=%d version=%d",
			args[1], orDash(view.CurrentLocation), orDash(view.CurrentArea),
			len(view.Inventory), view.SnapshotVersion))
		res.Metadata = map[string]any{"player": view}
		return res, nil
	}

	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case isZoneWord(args[0]):
		record, found := s.world.Map("locations." + args[1])
		if !found {
			return fail(fmt.Sprintf("No location %q here.", args[1])), nil
		}
		res := ok(fmt.Sprintf("Location %s.", args[1]))
		res.Metadata = map[string]any{"record": record}
		return res, nil

	case isAreaWord(args[0]):
		if len(args) < 3 {
			return fail("Usage: @inspect sublocation <location> <sublocation>"), nil
		}
		record, found := s.world.Map("locations." + args[1] + ".areas." + args[2])
		if !found {
			return fail(fmt.Sprintf("No sublocation %q in %q.", args[2], args[1])), nil
		}
		res := ok(fmt.Sprintf("Sublocation %s/%s.", args[1], args[2]))
		res.Metadata = map[string]any{"record": record}
		return res, nil

	case args[0] == "instance":
		if len(args) < 4 {
			return fail("Usage: @inspect instance <location> <sublocation> <instance_id>"), nil
		}
		record, found := s.findAreaItem(args[1], args[2], args[3])
		if !found {
			return fail(fmt.Sprintf("No instance %q at %s/%s.", args[3], args[1], args[2])), nil
		}
		res := ok(fmt.Sprintf("Instance %s.", args[3]))
		res.Metadata = map[string]any{"record": record}
		return res, nil
	}

	return fail("Usage: @inspect <location|sublocation|instance|player> <id...>"), nil
}

// handleAdminReset forces state back to its authored baseline through the
// state store's reset APIs. Destructive, so CONFIRM gated.
func (d *Dispatcher) handleAdminReset(ctx context.Context, req *Request) (*Result, error) {
	args, confirmed := splitConfirm(req.Args)
	if len(args) == 0 {
		return fail("Usage: @reset <experience|player <user>|instance <id>> CONFIRM"), nil
	}

	switch args[0] {
	case "experience":
		if !confirmed {
			return ok(fmt.Sprintf("This resets the whole experience %q for every player. Repeat with CONFIRM to proceed.", req.Experience)), nil
		}
		if err := d.deps.Store.ResetExperience(ctx, req.Experience); err != nil {
			return nil, err
		}
		return ok(fmt.Sprintf("Experience %s reset to its template.", req.Experience)), nil

	case "player":
		if len(args) < 2 {
			return fail("Usage: @reset player <user> CONFIRM"), nil
		}
		if !confirmed {
			return ok(fmt.Sprintf("This erases %s's progress. Repeat with CONFIRM to proceed.", args[1])), nil
		}
		if err := d.deps.Store.ResetPlayer(ctx, req.Experience, args[1]); err != nil {
			return nil, err
		}
		return ok(fmt.Sprintf("Player %s reset.", args[1])), nil

	case "instance":
		if len(args) < 2 {
			return fail("Usage: @reset instance <id> CONFIRM"), nil
		}
		if !confirmed {
			return ok(fmt.Sprintf("This returns instance %s to its authored position. Repeat with CONFIRM to proceed.", args[1])), nil
		}
		if err := d.deps.Store.ResetInstance(ctx, req.Experience, args[1], req.UserID); err != nil {
			return nil, err
		}
		return ok(fmt.Sprintf("Instance %s reset.", args[1])), nil
	}

	return fail("Usage: @reset <experience|player <user>|instance <id>> CONFIRM"), nil
}

// handleAdminWhere reports a player's current position.
func (d *Dispatcher) handleAdminWhere(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Args) < 1 {
		return fail("Usage: @where <user>"), nil
	}
	userID := req.Args[0]
	view, err := d.deps.Store.PlayerView(ctx, req.Experience, userID)
	if err != nil {
		return nil, err
	}
	if view.CurrentLocation == "" {
		return ok(fmt.Sprintf("%s hasn't arrived anywhere yet.", userID)), nil
	}
	msg := fmt.Sprintf("%s is at %s", userID, view.CurrentLocation)
	if view.CurrentArea != "" {
		msg += "/" + view.CurrentArea
	}
	res := ok(msg + ".")
	res.Metadata = map[string]any{
		"current_location": view.CurrentLocation,
		"current_area":     view.CurrentArea,
		"last_action":      view.LastAction,
	}
	return res, nil
}

// handleAdminFind fuzzy-searches the world for zones, areas, and
// instances whose id or name resembles the term.
func (d *Dispatcher) handleAdminFind(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Args) < 1 {
		return fail("Usage: @find <term>"), nil
	}
	term := strings.ToLower(strings.Join(req.Args, " "))

	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	world := s.typedWorld()

	type hit struct {
		Kind  string  `json:"kind"`
		Path  string  `json:"path"`
		Score float64 `json:"score"`
	}
	var hits []hit
	consider := func(kind, path string, names ...string) {
		best := 0.0
		for _, n := range names {
			if n == "" {
				continue
			}
			if sc := similarity(term, strings.ToLower(n)); sc > best {
				best = sc
			}
		}
		if best >= fuzzyThreshold {
			hits = append(hits, hit{Kind: kind, Path: path, Score: best})
		}
	}

	for zoneID, zone := range world.Locations {
		consider("location", zoneID, zoneID, zone.Name)
		for areaID, area := range zone.Areas {
			consider("sublocation", zoneID+"/"+areaID, areaID, area.Name)
			for _, inst := range area.Items {
				consider("instance", zoneID+"/"+areaID+"/"+inst.InstanceID,
					inst.InstanceID, inst.TemplateID, d.instanceName(s, inst))
			}
		}
	}

	if len(hits) == 0 {
		return ok(fmt.Sprintf("Nothing matching %q.", term)), nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	paths := make([]string, 0, len(hits))
	for _, h := range hits {
		paths = append(paths, h.Path)
	}
	res := ok("Found: " + strings.Join(paths, ", "))
	res.Metadata = map[string]any{"matches": hits}
	return res, nil
}

// handleAdminStats reports live runtime numbers.
func (d *Dispatcher) handleAdminStats(ctx context.Context, req *Request) (*Result, error) {
	active := 0
	perExp := map[string]int{}
	if d.deps.Stats != nil {
		active = d.deps.Stats.ActiveConnections()
		perExp = d.deps.Stats.ConnectionsByExperience()
	}
	busUp := d.deps.Bus != nil && d.deps.Bus.Connected()

	res := ok(fmt.Sprintf("%d active connections; event bus %s.", active, upDown(busUp)))
	res.Metadata = map[string]any{
		"active_connections":  active,
		"by_experience":       perExp,
		"event_bus_connected": busUp,
	}
	return res, nil
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func upDown(up bool) string {
	if up {
		return "connected"
	}
	return "disconnected"
}
