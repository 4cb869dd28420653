package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emberfield/waystone/internal/chat"
	chatmock "github.com/emberfield/waystone/internal/chat/mock"
)

func TestHTTPClient_Reply(t *testing.T) {
	t.Parallel()

	var got chat.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/npc/reply" {
			t.Errorf("path = %q, want /v1/npc/reply", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"reply": "Welcome back, wanderer."})
	}))
	defer srv.Close()

	c := chat.NewHTTPClient(srv.URL)
	reply, err := c.Reply(context.Background(), chat.Request{
		Experience: "emberwood",
		UserID:     "u1",
		NPC:        map[string]any{"name": "Woander"},
		Message:    "hello",
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "Welcome back, wanderer." {
		t.Errorf("reply = %q", reply)
	}
	if got.NPC["name"] != "Woander" || got.Message != "hello" {
		t.Errorf("request not forwarded intact: %+v", got)
	}
}

func TestHTTPClient_Reply_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := chat.NewHTTPClient(srv.URL)
	_, err := c.Reply(context.Background(), chat.Request{Message: "hi"})
	if !errors.Is(err, chat.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPClient_Reply_Timeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := chat.NewHTTPClient(srv.URL, chat.WithTimeout(50*time.Millisecond))
	_, err := c.Reply(context.Background(), chat.Request{Message: "hi"})
	if !errors.Is(err, chat.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestService_DegradesToCanned(t *testing.T) {
	t.Parallel()

	client := &chatmock.Client{ReplyErr: errors.New("boom")}
	svc := chat.NewService(client)

	reply, degraded := svc.Reply(context.Background(), chat.Request{
		NPC: map[string]any{"name": "Woander"},
	})
	if !degraded {
		t.Fatal("expected degraded reply")
	}
	if reply != "Woander seems lost in thought and doesn't answer right now." {
		t.Errorf("canned reply = %q", reply)
	}
}

func TestService_AuthorsOwnFallback(t *testing.T) {
	t.Parallel()

	client := &chatmock.Client{ReplyErr: errors.New("boom")}
	svc := chat.NewService(client)

	reply, degraded := svc.Reply(context.Background(), chat.Request{
		NPC: map[string]any{"name": "Woander", "fallback_reply": "The shopkeeper hums a tune."},
	})
	if !degraded {
		t.Fatal("expected degraded reply")
	}
	if reply != "The shopkeeper hums a tune." {
		t.Errorf("canned reply = %q", reply)
	}
}

func TestService_PassesThroughHealthyReplies(t *testing.T) {
	t.Parallel()

	client := &chatmock.Client{ReplyText: "Ah, a customer!"}
	svc := chat.NewService(client)

	reply, degraded := svc.Reply(context.Background(), chat.Request{
		NPC:     map[string]any{"name": "Woander"},
		Message: "hello there",
	})
	if degraded {
		t.Fatal("unexpected degradation")
	}
	if reply != "Ah, a customer!" {
		t.Errorf("reply = %q", reply)
	}
	if client.CallCount() != 1 {
		t.Errorf("call count = %d, want 1", client.CallCount())
	}
}

func TestTrustDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    int
	}{
		{"neutral", "where is the market", 0},
		{"positive", "thank you for the help, friend", 3},
		{"negative", "you stupid liar", -2},
		{"mixed", "thanks, but you are a liar", 0},
		{"clamped positive", "please help, thank you kind wonderful friend", 3},
		{"punctuation ignored", "Thank you!!!", 1},
		{"empty", "", 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := chat.TrustDelta(tc.message); got != tc.want {
				t.Errorf("TrustDelta(%q) = %d, want %d", tc.message, got, tc.want)
			}
		})
	}
}
