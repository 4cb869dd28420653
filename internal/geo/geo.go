// Package geo answers distance queries over GPS anchors.
//
// Queries are purely distance based. The world model has no spatial
// hierarchy; whatever structure an experience has comes from zones and
// areas, not from geography.
package geo

import (
	"math"
	"sort"

	"github.com/emberfield/waystone/pkg/wire"
)

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371000.0

// DistanceM returns the great-circle distance in meters between two
// coordinates, using the haversine formula. Accurate to well under a meter
// at geofence scales.
func DistanceM(a, b wire.GPS) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Match is one anchor that fell inside a query radius.
type Match struct {
	Geography wire.Geography
	DistanceM float64
}

// Nearby returns the anchors within radiusM of pos, nearest first.
// An empty result is a normal answer, not an error; the caller renders it
// as an empty area of interest.
func Nearby(anchors []wire.Geography, pos wire.GPS, radiusM float64) []Match {
	var matches []Match
	for _, g := range anchors {
		d := DistanceM(pos, wire.GPS{Lat: g.Lat, Lng: g.Lng})
		if d <= radiusM {
			matches = append(matches, Match{Geography: g, DistanceM: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceM < matches[j].DistanceM
	})
	return matches
}

// Nearest returns the single closest in-range anchor.
func Nearest(anchors []wire.Geography, pos wire.GPS, radiusM float64) (Match, bool) {
	matches := Nearby(anchors, pos, radiusM)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}
