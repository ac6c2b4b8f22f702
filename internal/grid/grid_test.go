package grid

import (
	gomath "math"
	"testing"

	"github.com/Faultbox/sandtable/internal/geom"
	"github.com/Faultbox/sandtable/internal/wire"
)

func testGeometry() wire.Geometry {
	return wire.Geometry{
		Width: 4, Height: 3,
		CellWidth: 1, CellHeight: 1,
		MinElevation: 0, MaxElevation: 10,
	}
}

// flatPair returns a pair with constant bathymetry b and water level w.
func flatPair(g wire.Geometry, b, w float32) *Pair {
	var p Pair
	p.Init(g)
	for i := range p.Bathymetry {
		p.Bathymetry[i] = b
	}
	for i := range p.WaterLevel {
		p.WaterLevel[i] = w
	}
	return &p
}

func TestInitSizes(t *testing.T) {
	g := testGeometry()
	var p Pair
	p.Init(g)

	if len(p.Bathymetry) != 6 {
		t.Errorf("bathymetry size %d, want 6", len(p.Bathymetry))
	}
	if len(p.WaterLevel) != 12 {
		t.Errorf("water level size %d, want 12", len(p.WaterLevel))
	}
}

func TestWaterLevelAtFlat(t *testing.T) {
	g := testGeometry()
	p := flatPair(g, 1, 5)

	got, ok := WaterLevelAt(p, g, 1.7, 1.2)
	if !ok {
		t.Fatal("expected in-grid position to sample")
	}
	if gomath.Abs(float64(got-5)) > 1e-6 {
		t.Errorf("flat water level sampled as %g, want 5", got)
	}
}

func TestWaterLevelAtGradient(t *testing.T) {
	g := testGeometry()
	var p Pair
	p.Init(g)
	// Water level rises linearly with the x vertex index.
	for y := 0; y < int(g.Height); y++ {
		for x := 0; x < int(g.Width); x++ {
			p.WaterLevel[y*int(g.Width)+x] = float32(x)
		}
	}

	got, ok := WaterLevelAt(&p, g, 1.5, 1.0)
	if !ok {
		t.Fatal("expected in-grid position to sample")
	}
	if gomath.Abs(float64(got-1.5)) > 1e-6 {
		t.Errorf("gradient sampled as %g at x=1.5, want 1.5", got)
	}
}

func TestWaterLevelAtOutside(t *testing.T) {
	g := testGeometry()
	p := flatPair(g, 1, 5)

	tests := []struct {
		name string
		x, y float32
	}{
		{"left of grid", -1, 1},
		{"right of grid", 5, 1},
		{"below grid", 1, -1},
		{"above grid", 1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := WaterLevelAt(p, g, tt.x, tt.y); ok {
				t.Errorf("position (%g,%g) outside grid sampled anyway", tt.x, tt.y)
			}
		})
	}
}

func TestUnderwater(t *testing.T) {
	g := testGeometry()
	p := flatPair(g, 1, 5)

	tests := []struct {
		name string
		head geom.Vec3
		want bool
	}{
		{"below surface", geom.Vec3{1.5, 1, 3}, true},
		{"at surface", geom.Vec3{1.5, 1, 5}, true},
		{"above surface", geom.Vec3{1.5, 1, 6}, false},
		{"outside grid", geom.Vec3{-3, 1, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Underwater(p, g, tt.head); got != tt.want {
				t.Errorf("Underwater(%v) = %v, want %v", tt.head, got, tt.want)
			}
		})
	}
}

func TestBathymetryAtClamped(t *testing.T) {
	g := testGeometry()
	p := flatPair(g, 2.5, 0)

	// Clamping means even far-out positions sample the border cells.
	for _, pos := range [][2]float32{{1.5, 1}, {-10, -10}, {100, 100}} {
		got := BathymetryAt(p, g, pos[0], pos[1])
		if gomath.Abs(float64(got-2.5)) > 1e-6 {
			t.Errorf("flat bathymetry at (%g,%g) sampled as %g, want 2.5", pos[0], pos[1], got)
		}
	}
}
