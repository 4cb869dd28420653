package geo_test

import (
	"math"
	"testing"

	"github.com/emberfield/waystone/internal/geo"
	"github.com/emberfield/waystone/pkg/wire"
)

func TestDistanceM(t *testing.T) {
	t.Parallel()

	start := wire.GPS{Lat: 37.906233, Lng: -122.547721}

	if d := geo.DistanceM(start, start); d != 0 {
		t.Errorf("distance to self: got %v, want 0", d)
	}

	// One degree of latitude is ~111.2 km everywhere.
	a := wire.GPS{Lat: 0, Lng: 0}
	b := wire.GPS{Lat: 1, Lng: 0}
	if d := geo.DistanceM(a, b); d < 111000 || d > 111400 {
		t.Errorf("1 degree latitude: got %v m", d)
	}

	// One degree of longitude shrinks with cos(latitude).
	c := wire.GPS{Lat: 60, Lng: 0}
	e := wire.GPS{Lat: 60, Lng: 1}
	if d := geo.DistanceM(c, e); d < 55000 || d > 56200 {
		t.Errorf("1 degree longitude at 60N: got %v m", d)
	}

	// Symmetry.
	if d1, d2 := geo.DistanceM(a, b), geo.DistanceM(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("asymmetric distances: %v vs %v", d1, d2)
	}
}

func TestNearby(t *testing.T) {
	t.Parallel()

	anchors := []wire.Geography{
		{ID: "far", Lat: 38.9, Lng: -122.5},
		{ID: "store", Lat: 37.906233, Lng: -122.547721},
		{ID: "meadow", Lat: 37.9065, Lng: -122.5477},
	}
	pos := wire.GPS{Lat: 37.906233, Lng: -122.547721}

	matches := geo.Nearby(anchors, pos, 100)
	if len(matches) != 2 {
		t.Fatalf("matches: got %d, want 2", len(matches))
	}
	if matches[0].Geography.ID != "store" {
		t.Errorf("nearest: got %q, want store", matches[0].Geography.ID)
	}
	if matches[1].Geography.ID != "meadow" {
		t.Errorf("second: got %q, want meadow", matches[1].Geography.ID)
	}
	if matches[0].DistanceM > matches[1].DistanceM {
		t.Error("matches not sorted nearest first")
	}
}

func TestNearby_NothingInRange(t *testing.T) {
	t.Parallel()

	anchors := []wire.Geography{
		{ID: "store", Lat: 37.906233, Lng: -122.547721},
	}

	// A null-island position must come back empty, never error.
	if matches := geo.Nearby(anchors, wire.GPS{Lat: 0, Lng: 0}, 100); len(matches) != 0 {
		t.Errorf("expected no matches, got %v", matches)
	}

	if _, ok := geo.Nearest(anchors, wire.GPS{Lat: 0, Lng: 0}, 100); ok {
		t.Error("Nearest reported a match out of range")
	}
}

func TestNearest(t *testing.T) {
	t.Parallel()

	anchors := []wire.Geography{
		{ID: "a", Lat: 37.9060, Lng: -122.5477},
		{ID: "b", Lat: 37.9061, Lng: -122.5477},
	}
	pos := wire.GPS{Lat: 37.90605, Lng: -122.5477}

	m, ok := geo.Nearest(anchors, pos, 500)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Geography.ID != "a" && m.Geography.ID != "b" {
		t.Errorf("unexpected nearest %q", m.Geography.ID)
	}
}
