package sim

import (
	"testing"
	"time"

	"github.com/Faultbox/sandtable/internal/wire"
)

func testGeometry() wire.Geometry {
	return wire.Geometry{
		Width: 9, Height: 7,
		CellWidth: 1, CellHeight: 1,
		MinElevation: 0, MaxElevation: 10,
	}
}

func requestAndWait(t *testing.T, tank *Tank) ([]float32, []float32) {
	t.Helper()
	g := testGeometry()
	bathymetry := make([]float32, g.BathymetryLen())
	waterLevel := make([]float32, g.WaterLevelLen())

	done := make(chan struct{})
	if !tank.RequestGrids(bathymetry, waterLevel, func() { close(done) }) {
		t.Fatal("idle tank declined a request")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fill did not complete")
	}
	return bathymetry, waterLevel
}

func TestFillWithinElevationRange(t *testing.T) {
	g := testGeometry()
	tank := NewTank(g)
	defer tank.Close()

	bathymetry, waterLevel := requestAndWait(t, tank)

	for i, v := range bathymetry {
		if v < g.MinElevation || v > g.MaxElevation {
			t.Errorf("bathymetry[%d] = %g outside [%g, %g]", i, v, g.MinElevation, g.MaxElevation)
		}
	}
	for i, v := range waterLevel {
		if v < g.MinElevation || v > g.MaxElevation {
			t.Errorf("waterLevel[%d] = %g outside [%g, %g]", i, v, g.MinElevation, g.MaxElevation)
		}
	}
}

func TestWaterNeverBelowSand(t *testing.T) {
	tank := NewTank(testGeometry())
	defer tank.Close()
	tank.Advance(0.7)

	bathymetry, waterLevel := requestAndWait(t, tank)

	w := int(testGeometry().Width)
	for y := 0; y < int(testGeometry().Height)-1; y++ {
		for x := 0; x < w-1; x++ {
			bed := bathymetry[y*(w-1)+x]
			if lvl := waterLevel[y*w+x]; lvl < bed {
				t.Errorf("water %g below sand %g at (%d,%d)", lvl, bed, x, y)
			}
		}
	}
}

func TestAdvanceChangesWater(t *testing.T) {
	tank := NewTank(testGeometry())
	defer tank.Close()

	_, before := requestAndWait(t, tank)
	first := make([]float32, len(before))
	copy(first, before)

	tank.Advance(1.0)
	_, after := requestAndWait(t, tank)

	same := true
	for i := range first {
		if first[i] != after[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("water surface did not change after advancing the clock")
	}
}

func TestDeclinesWhileBusy(t *testing.T) {
	g := testGeometry()
	tank := NewTank(g)
	defer tank.Close()

	bathymetry := make([]float32, g.BathymetryLen())
	waterLevel := make([]float32, g.WaterLevelLen())

	release := make(chan struct{})
	accepted := tank.RequestGrids(bathymetry, waterLevel, func() { <-release })
	if !accepted {
		t.Fatal("idle tank declined a request")
	}

	// The worker is parked inside the completion callback, so the first
	// request is still in flight and the second must be declined.
	if tank.RequestGrids(bathymetry, waterLevel, func() {}) {
		t.Error("busy tank accepted an overlapping request")
	}
	close(release)
}
