package command

import (
	"context"
	"strings"
	"time"

	"github.com/emberfield/waystone/internal/chat"
	"github.com/emberfield/waystone/pkg/wire"
)

// handleTalk runs one conversation exchange with an NPC. The narrative
// service writes the reply; this handler writes the relationship: both
// turns land in the conversation ring buffer, trust shifts by the
// utterance's sentiment, and the bookkeeping counters advance. A degraded
// (canned) reply changes no state at all, so an outage can't distort
// relationships.
func (d *Dispatcher) handleTalk(ctx context.Context, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return fail("Say something first."), nil
	}
	s, err := d.loadScene(ctx, req)
	if err != nil {
		return nil, err
	}
	if res, okPos := requirePosition(s.view, false); !okPos {
		return res, nil
	}
	if !d.npcPresent(s, s.view.CurrentLocation, s.view.CurrentArea, req.NPCID) {
		return fail("There's nobody here by that name."), nil
	}

	npcRecord := map[string]any{"template_id": req.NPCID}
	if tpl, tplErr := d.deps.Templates.Get(s.exp, req.NPCID); tplErr == nil {
		npcRecord = tpl.Raw()
	}
	rel := s.view.RelationshipWith(req.NPCID)

	reply, degraded := d.deps.Chat.Reply(ctx, chat.Request{
		Experience:   req.Experience,
		UserID:       req.UserID,
		NPC:          npcRecord,
		Relationship: rel,
		Player: chat.PlayerSummary{
			CurrentLocation: s.view.CurrentLocation,
			CurrentArea:     s.view.CurrentArea,
			InventoryCount:  len(s.view.Inventory),
		},
		Message: req.Message,
	})
	if degraded {
		res := ok(reply)
		res.Metadata = map[string]any{"npc_id": req.NPCID, "degraded": true}
		return res, nil
	}

	now := time.Now().UnixMilli()
	delta := chat.TrustDelta(req.Message)

	relUpdates := map[string]any{
		"conversation_history": map[string]any{
			"$set":   historyWith(rel, req.Message, reply, now),
			"$limit": wire.ConversationHistoryLimit,
		},
		"total_conversations": map[string]any{"$increment": 1},
	}
	if rel.FirstMet == 0 {
		// First meeting: the row may not exist yet, so the trust level is
		// seeded absolutely rather than incremented from a missing zero.
		relUpdates["first_met"] = map[string]any{"$set": now}
		relUpdates["trust_level"] = map[string]any{"$set": clampTrust(wire.DefaultTrustLevel + delta)}
	} else if delta != 0 {
		relUpdates["trust_level"] = map[string]any{"$increment": delta}
	}

	res := ok(reply)
	res.StateChanges = map[string]any{
		"npcs": map[string]any{req.NPCID: relUpdates},
	}
	res.Metadata = map[string]any{"npc_id": req.NPCID, "trust_delta": delta}
	return res, nil
}

// historyWith renders the full post-exchange conversation history as raw
// list elements the delta operators can truncate.
func historyWith(rel wire.Relationship, message, reply string, now int64) []any {
	turns := append(append([]wire.ConversationTurn{}, rel.ConversationHistory...),
		wire.ConversationTurn{Role: wire.RolePlayer, Text: message, Timestamp: now},
		wire.ConversationTurn{Role: wire.RoleNPC, Text: reply, Timestamp: now},
	)
	out := make([]any, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]any{
			"role":      t.Role,
			"text":      t.Text,
			"timestamp": t.Timestamp,
		})
	}
	return out
}

func clampTrust(v int) int {
	if v < wire.MinTrustLevel {
		return wire.MinTrustLevel
	}
	if v > wire.MaxTrustLevel {
		return wire.MaxTrustLevel
	}
	return v
}
