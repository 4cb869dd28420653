package command_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/emberfield/waystone/internal/command"
	"github.com/emberfield/waystone/pkg/wire"
)

func TestTalkRecordsExchange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "shared")
	f.chat.ReplyText = "Dreams keep better in the shade."

	res := f.dispatch(t, &command.Request{
		Verb: "talk", NPCID: "keeper",
		Message: "Thank you, friend.",
	})
	if !res.Success {
		t.Fatalf("talk failed: %s", res.Message)
	}
	if res.Message != "Dreams keep better in the shade." {
		t.Errorf("reply = %q, want the narrative service's line", res.Message)
	}
	if f.chat.CallCount() != 1 {
		t.Fatalf("narrative calls = %d, want 1", f.chat.CallCount())
	}

	view := f.view(t, testUser)
	rel := view.v.RelationshipWith("keeper")
	if rel.TotalConversations != 1 {
		t.Errorf("total conversations = %d, want 1", rel.TotalConversations)
	}
	if rel.FirstMet == 0 {
		t.Error("first_met not stamped")
	}
	// "thank" and "friend" both score positive.
	if want := wire.DefaultTrustLevel + 2; rel.TrustLevel != want {
		t.Errorf("trust = %d, want %d", rel.TrustLevel, want)
	}
	if len(rel.ConversationHistory) != 2 {
		t.Fatalf("history length = %d, want both turns", len(rel.ConversationHistory))
	}
	if rel.ConversationHistory[0].Role != wire.RolePlayer ||
		rel.ConversationHistory[1].Role != wire.RoleNPC {
		t.Errorf("history roles = %q/%q, want player then npc",
			rel.ConversationHistory[0].Role, rel.ConversationHistory[1].Role)
	}
	view.wantVersion(1)
}

func TestTalkHistoryRingBuffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "shared")

	for i := 0; i < wire.ConversationHistoryLimit; i++ {
		if res := f.dispatch(t, &command.Request{
			Verb: "talk", NPCID: "keeper", Message: "hello again",
		}); !res.Success {
			t.Fatalf("exchange %d failed: %s", i, res.Message)
		}
	}
	rel := f.view(t, testUser).v.RelationshipWith("keeper")
	if len(rel.ConversationHistory) != wire.ConversationHistoryLimit {
		t.Errorf("history length = %d, want capped at %d",
			len(rel.ConversationHistory), wire.ConversationHistoryLimit)
	}
	if rel.TotalConversations != wire.ConversationHistoryLimit {
		t.Errorf("total conversations = %d, want %d",
			rel.TotalConversations, wire.ConversationHistoryLimit)
	}
}

func TestTalkDegradedChangesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "shared")
	f.chat.ReplyErr = errors.New("narrative service down")

	res := f.dispatch(t, &command.Request{
		Verb: "talk", NPCID: "keeper", Message: "Hello?",
	})
	if !res.Success {
		t.Fatalf("degraded talk failed outright: %s", res.Message)
	}
	if res.Message != "Mabel hums a tune instead of answering." {
		t.Errorf("reply = %q, want the authored fallback line", res.Message)
	}
	if res.Metadata["degraded"] != true {
		t.Error("degraded exchange not flagged in metadata")
	}

	view := f.view(t, testUser)
	view.wantVersion(0)
	if len(view.v.NPCs) != 0 {
		t.Error("degraded exchange mutated relationship state")
	}
}

func TestTalkToAbsentNPC(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "shared")

	res := f.dispatch(t, &command.Request{
		Verb: "talk", NPCID: "stranger", Message: "Hello?",
	})
	if res.Success {
		t.Fatal("talked to an absent npc")
	}
	if f.chat.CallCount() != 0 {
		t.Error("narrative service consulted for an absent npc")
	}
}

func TestTalkRequiresMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "shared")

	res := f.dispatch(t, &command.Request{Verb: "talk", NPCID: "keeper"})
	if res.Success {
		t.Fatal("talk with no message succeeded")
	}
	if !strings.Contains(res.Message, "Say something") {
		t.Errorf("unexpected message: %s", res.Message)
	}
}
