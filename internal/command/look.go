package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/emberfield/waystone/pkg/wire"
)

// handleLook narrates the player's surroundings. Read-only; invisible
// instances are omitted the same way the AOI builder omits them.
func (d *Dispatcher) handleLook(ctx context.Context, req *Request) (*Result, error) {
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

	var b strings.Builder
	writeLine(&b, zoneTitle(zone, s.view.CurrentLocation))
	writeLine(&b, zone.Description)

	area, inArea := zone.Area(s.view.CurrentArea)
	if !inArea {
		if names := areaNames(zone); len(names) > 0 {
			writeLine(&b, "Nearby: "+strings.Join(names, ", ")+".")
		}
		return ok(b.String()), nil
	}

	writeLine(&b, areaTitle(area, s.view.CurrentArea))
	writeLine(&b, area.Description)
	if items := d.visibleNames(s, area); len(items) > 0 {
		writeLine(&b, "You see: "+strings.Join(items, ", ")+".")
	}
	if area.NPC != "" {
		writeLine(&b, d.npcName(s.exp, area.NPC)+" is here.")
	}
	if len(area.Exits) > 0 {
		writeLine(&b, "Exits: "+strings.Join(exitNames(zone, area), ", ")+".")
	}
	return ok(b.String()), nil
}

// handleInventory lists what the player is carrying.
func (d *Dispatcher) handleInventory(ctx context.Context, req *Request) (*Result, error) {
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(s.view.Inventory) == 0 {
		return ok("You're not carrying anything."), nil
	}
	names := make([]string, 0, len(s.view.Inventory))
	for _, inst := range s.view.Inventory {
		names = append(names, d.instanceName(s, inst))
	}
	return ok("You're carrying: " + strings.Join(names, ", ") + "."), nil
}

// handleExamine describes one instance the player can see: in their
// inventory, in the current area, or the NPC standing there. The target
// may be an instance id or a fuzzy name.
func (d *Dispatcher) handleExamine(ctx context.Context, req *Request) (*Result, error) {
	target := req.ItemID
	if target == "" {
		target = req.Target
	}
	if target == "" {
		// Bare examine reads as look.
		return d.handleLook(ctx, req)
	}

	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}

	type reachable struct {
		inst wire.Instance
	}
	byID := map[string]reachable{}
	var candidates []nameCandidate
	add := func(inst wire.Instance) {
		if !inst.IsVisible() {
			return
		}
		byID[inst.InstanceID] = reachable{inst: inst}
		candidates = append(candidates, nameCandidate{
			ID:   inst.InstanceID,
			Name: d.instanceName(s, inst),
		})
	}
	for _, inst := range s.view.Inventory {
		add(inst)
	}
	world := s.typedWorld()
	if zone, inZone := world.Zone(s.view.CurrentLocation); inZone {
		if area, inArea := zone.Area(s.view.CurrentArea); inArea {
			for _, inst := range area.Items {
				add(inst)
			}
			if area.NPC != "" {
				candidates = append(candidates, nameCandidate{
					ID:   area.NPC,
					Name: d.npcName(s.exp, area.NPC),
				})
			}
		}
	}

	c, _, found := resolveName(target, candidates)
	if !found {
		return fail("You don't see anything like that."), nil
	}
	if r, isInstance := byID[c.ID]; isInstance {
		return ok(d.describeInstance(s, r.inst)), nil
	}
	// Area NPC: described from its template alone.
	if tpl, tplErr := d.deps.Templates.Get(s.exp, c.ID); tplErr == nil && tpl.Description != "" {
		return ok(tpl.Description), nil
	}
	return ok(fmt.Sprintf("%s doesn't stand out in any particular way.", c.Name)), nil
}

// describeInstance renders the merged record's description, or a shrug.
func (d *Dispatcher) describeInstance(s *scene, inst wire.Instance) string {
	record, err := d.deps.Templates.Merge(s.exp, inst)
	if err == nil {
		if desc, okStr := record["description"].(string); okStr && desc != "" {
			return desc
		}
	}
	return fmt.Sprintf("The %s doesn't stand out in any particular way.", d.instanceName(s, inst))
}

// instanceName names an instance for narration.
func (d *Dispatcher) instanceName(s *scene, inst wire.Instance) string {
	if tpl, err := d.deps.Templates.Get(s.exp, inst.TemplateID); err == nil && tpl.Name != "" {
		return tpl.Name
	}
	return inst.InstanceID
}

func (d *Dispatcher) visibleNames(s *scene, area wire.Area) []string {
	var names []string
	for _, inst := range area.Items {
		if inst.IsVisible() {
			names = append(names, d.instanceName(s, inst))
		}
	}
	return names
}

func zoneTitle(zone wire.Zone, id string) string {
	if zone.Name != "" {
		return zone.Name
	}
	return id
}

func areaTitle(area wire.Area, id string) string {
	if area.Name != "" {
		return area.Name
	}
	return id
}

func areaNames(zone wire.Zone) []string {
	names := make([]string, 0, len(zone.Areas))
	for id, a := range zone.Areas {
		if a.Name != "" {
			names = append(names, a.Name)
		} else {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names
}

func exitNames(zone wire.Zone, area wire.Area) []string {
	names := make([]string, 0, len(area.Exits))
	for _, id := range area.Exits {
		if dest, okArea := zone.Area(id); okArea && dest.Name != "" {
			names = append(names, dest.Name)
		} else {
			names = append(names, id)
		}
	}
	return names
}

func writeLine(b *strings.Builder, line string) {
	if line == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	b.WriteString(line)
}
