package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters_IdenticalPoints(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{45.5, -122.6},
		{-33.87, 151.21},
		{89.9, 179.9},
	}
	for _, p := range points {
		if d := DistanceMeters(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("DistanceMeters(%v, %v, same) = %v, want 0", p[0], p[1], d)
		}
	}
}

func TestDistanceMeters_Symmetry(t *testing.T) {
	cases := [][4]float64{
		{40.7128, -74.0060, 34.0522, -118.2437},
		{0, 0, 0.001, 0.001},
		{-45, 170, 45, -170},
	}
	for _, c := range cases {
		ab := DistanceMeters(c[0], c[1], c[2], c[3])
		ba := DistanceMeters(c[2], c[3], c[0], c[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("asymmetric: %v vs %v for %v", ab, ba, c)
		}
	}
}

func TestDistanceMeters_KnownDistance(t *testing.T) {
	// One degree of latitude at the equator is ~111.19 km.
	d := DistanceMeters(0, 0, 1, 0)
	if d < 111000 || d > 111500 {
		t.Errorf("one degree latitude = %v m, want ~111195", d)
	}

	// ~15m offset used by the club analyzer scenario tests: 0.000135 degrees
	// of latitude is about 15 meters.
	d = DistanceMeters(0, 0, 0.000135, 0)
	if d < 14 || d > 16 {
		t.Errorf("small offset = %v m, want ~15", d)
	}
}

func TestDistanceMeters_Monotonic(t *testing.T) {
	base := DistanceMeters(0, 0, 0.001, 0)
	farther := DistanceMeters(0, 0, 0.002, 0)
	if farther <= base {
		t.Errorf("expected monotonic growth: %v <= %v", farther, base)
	}
}

func TestFormatDistance(t *testing.T) {
	cases := []struct {
		meters float64
		want   string
	}{
		{0, "0m"},
		{12.4, "12m"},
		{12.5, "13m"},
		{999, "999m"},
		{999.4, "999m"},
		{1000, "1.0km"},
		{1550, "1.6km"},
		{12345, "12.3km"},
	}
	for _, c := range cases {
		if got := FormatDistance(c.meters); got != c.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", c.meters, got, c.want)
		}
	}
}

func TestMapsLink(t *testing.T) {
	link := MapsLink(47.608013, -122.335167)
	want := "https://maps.google.com/?q=47.608013,-122.335167"
	if link != want {
		t.Errorf("MapsLink = %q, want %q", link, want)
	}
}
