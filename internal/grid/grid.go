// Package grid holds the bathymetry / water level grid pair and the
// sampling helpers viewers use to relate poses to the surface.
package grid

import (
	gomath "math"

	"github.com/Faultbox/sandtable/internal/geom"
	"github.com/Faultbox/sandtable/internal/wire"
)

// Pair is one atomic grid update: a cell-centered bathymetry grid of
// (W-1)x(H-1) samples and a vertex-centered water level grid of WxH
// samples, both row-major. The two buffers are always populated together;
// consumers never see a bathymetry grid from one update paired with a water
// level grid from another.
type Pair struct {
	Bathymetry []float32
	WaterLevel []float32
}

// Init allocates both buffers at the fixed size the geometry dictates.
// Called once per slot at session setup; the buffers are reused in place
// for every subsequent update.
func (p *Pair) Init(g wire.Geometry) {
	p.Bathymetry = make([]float32, g.BathymetryLen())
	p.WaterLevel = make([]float32, g.WaterLevelLen())
}

// BathymetryAt returns the bilinearly interpolated bathymetry elevation at
// world position (x,y). Positions outside the cell-centered grid interior
// are clamped to its border cells.
func BathymetryAt(p *Pair, g wire.Geometry, x, y float32) float32 {
	w := int(g.Width)
	dx := float64(x/g.CellWidth) - 0.5
	gx := clampi(int(gomath.Floor(dx)), 0, w-3)
	fx := float32(dx) - float32(gx)
	dy := float64(y/g.CellHeight) - 0.5
	gy := clampi(int(gomath.Floor(dy)), 0, int(g.Height)-3)
	fy := float32(dy) - float32(gy)

	row := p.Bathymetry[gy*(w-1)+gx:]
	b0 := row[0]*(1-fx) + row[1]*fx
	row = row[w-1:]
	b1 := row[0]*(1-fx) + row[1]*fx
	return b0*(1-fy) + b1*fy
}

// WaterLevelAt returns the bilinearly interpolated water level at world
// position (x,y). The second return value is false when the position lies
// outside the vertex grid.
func WaterLevelAt(p *Pair, g wire.Geometry, x, y float32) (float32, bool) {
	w := int(g.Width)
	dx := float64(x / g.CellWidth)
	gx := int(gomath.Floor(dx))
	fx := float32(dx) - float32(gx)
	dy := float64(y / g.CellHeight)
	gy := int(gomath.Floor(dy))
	fy := float32(dy) - float32(gy)

	if gx < 0 || gx >= w-1 || gy < 0 || gy >= int(g.Height)-1 {
		return 0, false
	}

	row := p.WaterLevel[gy*w+gx:]
	l0 := row[0]*(1-fx) + row[1]*fx
	row = row[w:]
	l1 := row[0]*(1-fx) + row[1]*fx
	return l0*(1-fy) + l1*fy, true
}

// Underwater reports whether the given head position is at or below the
// local water surface. Positions outside the grid are never underwater.
func Underwater(p *Pair, g wire.Geometry, head geom.Vec3) bool {
	level, ok := WaterLevelAt(p, g, head[0], head[1])
	return ok && head[2] <= level
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
