package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/emberfield/waystone/pkg/wire"
)

// cardinals are the directions a cardinal_exits table may carry.
var cardinals = map[string]bool{
	"north": true, "south": true, "east": true, "west": true,
}

// handleGo moves the player to another area in their current zone, or to
// another zone entirely. Zone moves are logical teleports: the player's
// physical GPS fix still decides which AOI they receive, but their
// narrative position follows the verb.
func (d *Dispatcher) handleGo(ctx context.Context, req *Request) (*Result, error) {
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	if res, okPos := requirePosition(s.view, false); !okPos {
		return res, nil
	}
	world := s.typedWorld()
	zone, inZone := world.Zone(s.view.CurrentLocation)
	if !inZone {
		return fail("You're somewhere off the map. Send your location first."), nil
	}

	target := strings.ToLower(strings.TrimSpace(req.Target))

	// A bare compass direction follows the current area's cardinal exits.
	if cardinals[target] {
		area, inArea := zone.Area(s.view.CurrentArea)
		if !inArea {
			return fail("You're not inside any area, so there's no " + target + " to go."), nil
		}
		dest, has := area.CardinalExits[target]
		if !has {
			return fail("There's no way " + target + " from here."), nil
		}
		return d.moveToArea(zone, dest), nil
	}

	if c, _, found := resolveName(target, areaCandidates(zone)); found {
		return d.moveToArea(zone, c.ID), nil
	}
	if c, _, found := resolveName(target, zoneCandidates(world, s.view.CurrentLocation)); found {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		res := ok(fmt.Sprintf("You set out for %s.", name))
		res.StateChanges = map[string]any{
			"current_location": map[string]any{"$set": c.ID},
			"current_area":     map[string]any{"$set": ""},
		}
		return res, nil
	}

	return fail(unknownDestination(zone)), nil
}

func (d *Dispatcher) moveToArea(zone wire.Zone, areaID string) *Result {
	area, _ := zone.Area(areaID)
	name := area.Name
	if name == "" {
		name = areaID
	}
	res := ok(fmt.Sprintf("You make your way to the %s.", name))
	res.StateChanges = map[string]any{
		"current_area": map[string]any{"$set": areaID},
	}
	return res
}

func areaCandidates(zone wire.Zone) []nameCandidate {
	out := make([]nameCandidate, 0, len(zone.Areas))
	for id, a := range zone.Areas {
		out = append(out, nameCandidate{ID: id, Name: a.Name})
	}
	return out
}

// zoneCandidates lists every zone except the one the player is in.
func zoneCandidates(world wire.World, exceptID string) []nameCandidate {
	out := make([]nameCandidate, 0, len(world.Locations))
	for id, z := range world.Locations {
		if id == exceptID {
			continue
		}
		out = append(out, nameCandidate{ID: id, Name: z.Name})
	}
	return out
}

func unknownDestination(zone wire.Zone) string {
	names := make([]string, 0, len(zone.Areas))
	for id, a := range zone.Areas {
		if a.Name != "" {
			names = append(names, a.Name)
		} else {
			names = append(names, id)
		}
	}
	if len(names) == 0 {
		return "There's nowhere to go from here."
	}
	sort.Strings(names)
	return "You can't get there from here. You could try: " + strings.Join(names, ", ") + "."
}
