package remote

// A GridSource produces bathymetry and water level grids on demand. The
// real sandbox host backs this with asynchronous GPU readback; tests and
// the demo daemon use simulated sources.
type GridSource interface {
	// RequestGrids asks the source to fill both destination buffers with
	// the current grid state. It reports whether the request was accepted;
	// a source with a request still outstanding declines. For every
	// accepted request the source invokes done exactly once, from any
	// goroutine, after both buffers are fully populated. The buffers must
	// not be touched after done returns.
	RequestGrids(bathymetry, waterLevel []float32, done func()) bool
}
