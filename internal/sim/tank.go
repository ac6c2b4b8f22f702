// Package sim provides a simulated wave tank: a fixed sand surface with an
// animated water layer. It stands in for a real depth-camera pipeline on
// hosts without capture hardware.
package sim

import (
	gomath "math"
	"sync/atomic"

	"github.com/Faultbox/sandtable/internal/wire"
)

// Tank simulates water sloshing over a sloped sand bed with a central
// mound. Grid readback runs on a worker goroutine so the requesting frame
// tick never blocks on the fill.
type Tank struct {
	geometry wire.Geometry

	// Static sand surface, one sample per cell.
	bathymetry []float32

	// Simulation clock, advanced by the frame tick.
	simTime float64

	busy atomic.Bool
	jobs chan fillJob
	quit chan struct{}
}

type fillJob struct {
	bathymetry []float32
	waterLevel []float32
	simTime    float64
	done       func()
}

// NewTank builds the sand bed for the given geometry and starts the fill
// worker.
func NewTank(g wire.Geometry) *Tank {
	t := &Tank{
		geometry:   g,
		bathymetry: make([]float32, g.BathymetryLen()),
		jobs:       make(chan fillJob, 1),
		quit:       make(chan struct{}),
	}
	t.buildBed()
	go t.fillLoop()
	return t
}

// Advance moves the simulation clock forward.
func (t *Tank) Advance(dt float64) {
	t.simTime += dt
}

// RequestGrids hands the buffers to the fill worker and reports whether the
// request was accepted. A request is declined while a previous fill is
// still in flight.
func (t *Tank) RequestGrids(bathymetry, waterLevel []float32, done func()) bool {
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	t.jobs <- fillJob{
		bathymetry: bathymetry,
		waterLevel: waterLevel,
		simTime:    t.simTime,
		done:       done,
	}
	return true
}

// Close stops the fill worker. No requests may be in flight.
func (t *Tank) Close() {
	close(t.quit)
}

func (t *Tank) fillLoop() {
	for {
		select {
		case job := <-t.jobs:
			copy(job.bathymetry, t.bathymetry)
			t.fillWater(job.waterLevel, job.simTime)
			job.done()
			t.busy.Store(false)
		case <-t.quit:
			return
		}
	}
}

// buildBed shapes the sand: a gentle slope along x with a gaussian mound in
// the middle, spanning the lower two thirds of the elevation range.
func (t *Tank) buildBed() {
	w := int(t.geometry.Width) - 1
	h := int(t.geometry.Height) - 1
	span := float64(t.geometry.MaxElevation - t.geometry.MinElevation)
	base := float64(t.geometry.MinElevation)

	cx, cy := float64(w)/2, float64(h)/2
	sigma2 := float64(w*w) / 32
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			slope := 0.25 * span * float64(x) / float64(w)
			dx, dy := float64(x)-cx, float64(y)-cy
			mound := 0.4 * span * gomath.Exp(-(dx*dx+dy*dy)/sigma2)
			t.bathymetry[y*w+x] = float32(base + 0.1*span + slope + mound)
		}
	}
}

// fillWater writes the water surface at the given time: a travelling wave
// around the mean water line, never below the sand underneath.
func (t *Tank) fillWater(out []float32, simTime float64) {
	w := int(t.geometry.Width)
	h := int(t.geometry.Height)
	span := float64(t.geometry.MaxElevation - t.geometry.MinElevation)
	mean := float64(t.geometry.MinElevation) + 0.45*span
	amp := 0.05 * span

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			phase := float64(x)/float64(w)*4*gomath.Pi - 1.5*simTime
			level := mean + amp*gomath.Sin(phase)
			if bed := t.bedAtVertex(x, y); level < float64(bed) {
				level = float64(bed)
			}
			out[y*w+x] = float32(level)
		}
	}
}

// bedAtVertex samples the cell-centered sand surface at a vertex, clamping
// at the rim.
func (t *Tank) bedAtVertex(x, y int) float32 {
	w := int(t.geometry.Width) - 1
	h := int(t.geometry.Height) - 1
	if x >= w {
		x = w - 1
	}
	if y >= h {
		y = h - 1
	}
	return t.bathymetry[y*w+x]
}
