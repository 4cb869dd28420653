package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/emberfield/waystone/internal/bus"
)

type delivery struct {
	subject string
	payload string
}

// collector funnels handler invocations into a channel tests can wait on.
func collector() (bus.Handler, chan delivery) {
	ch := make(chan delivery, 16)
	return func(subject string, payload []byte) {
		ch <- delivery{subject: subject, payload: string(payload)}
	}, ch
}

func waitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery within timeout")
		return delivery{}
	}
}

func assertNoDelivery(t *testing.T, ch chan delivery) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestBus(t *testing.T) *bus.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	b := bus.NewRedis(mr.Addr())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedis_PublishSubscribeRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBus(t)

	h, ch := collector()
	sub, err := b.Subscribe(ctx, bus.UserSubject("u1"), h)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	if err := b.Publish(ctx, bus.UserSubject("u1"), []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d := waitDelivery(t, ch)
	if d.subject != "world.updates.user.u1" {
		t.Errorf("subject: got %q", d.subject)
	}
	if d.payload != "hello" {
		t.Errorf("payload: got %q", d.payload)
	}
}

func TestRedis_WildcardReceivesAllUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBus(t)

	h, ch := collector()
	sub, err := b.Subscribe(ctx, bus.UserWildcard, h)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	for _, user := range []string{"u1", "u2"} {
		if err := b.Publish(ctx, bus.UserSubject(user), []byte(user)); err != nil {
			t.Fatalf("publish %s: %v", user, err)
		}
	}

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		d := waitDelivery(t, ch)
		got[d.subject] = d.payload
	}
	if got["world.updates.user.u1"] != "u1" || got["world.updates.user.u2"] != "u2" {
		t.Errorf("wildcard deliveries: %v", got)
	}
}

func TestRedis_DeliveryOrderPerSubject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBus(t)

	h, ch := collector()
	sub, err := b.Subscribe(ctx, bus.UserSubject("u1"), h)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	want := []string{"a", "b", "c", "d", "e"}
	for _, p := range want {
		if err := b.Publish(ctx, bus.UserSubject("u1"), []byte(p)); err != nil {
			t.Fatalf("publish %s: %v", p, err)
		}
	}
	for i, p := range want {
		if d := waitDelivery(t, ch); d.payload != p {
			t.Fatalf("delivery %d: got %q, want %q", i, d.payload, p)
		}
	}
}

func TestRedis_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBus(t)

	h, ch := collector()
	sub, err := b.Subscribe(ctx, bus.UserSubject("u1"), h)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Second unsubscribe is a no-op.
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}

	if err := b.Publish(ctx, bus.UserSubject("u1"), []byte("late")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertNoDelivery(t, ch)
}

func TestRedis_OtherSubjectNotDelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBus(t)

	h, ch := collector()
	sub, err := b.Subscribe(ctx, bus.UserSubject("u1"), h)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	if err := b.Publish(ctx, bus.UserSubject("u2"), []byte("not-for-u1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertNoDelivery(t, ch)
}

func TestRedis_Connected(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	b := bus.NewRedis(mr.Addr())
	defer b.Close()

	if !b.Connected() {
		t.Error("bus should report connected while the backend is up")
	}
	mr.Close()
	if b.Connected() {
		t.Error("bus should report disconnected after the backend went away")
	}
}

func TestUserSubject(t *testing.T) {
	t.Parallel()

	if got := bus.UserSubject("u1"); got != "world.updates.user.u1" {
		t.Errorf("UserSubject: got %q", got)
	}
}
