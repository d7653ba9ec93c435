package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceToKnownValues(t *testing.T) {
	tests := []struct {
		name      string
		from, to  Coordinate
		wantM     float64
		tolerance float64
	}{
		{name: "same point", from: Coordinate{Lat: 52.1, Lng: 4.3}, to: Coordinate{Lat: 52.1, Lng: 4.3}, wantM: 0, tolerance: 1e-9},
		{name: "0.002 degrees north", from: Coordinate{}, to: Coordinate{Lat: 0.002}, wantM: 222.39, tolerance: 0.1},
		{name: "one degree of longitude at equator", from: Coordinate{}, to: Coordinate{Lng: 1}, wantM: 111195, tolerance: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.from.DistanceTo(tt.to)
			if math.Abs(got-tt.wantM) > tt.tolerance {
				t.Fatalf("DistanceTo() = %f, want %f (±%f)", got, tt.wantM, tt.tolerance)
			}
		})
	}
}

func TestDistanceToSymmetric(t *testing.T) {
	a := Coordinate{Lat: 25.0, Lng: 121.0}
	b := Coordinate{Lat: 26.0, Lng: 122.0}
	if math.Abs(a.DistanceTo(b)-b.DistanceTo(a)) > 1e-6 {
		t.Fatalf("distance is not symmetric")
	}
}
