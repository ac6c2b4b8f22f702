package wire

import (
	"errors"
	"fmt"

	"github.com/Faultbox/sandtable/internal/geom"
)

// Byte-order tokens. Each side writes MagicToken in its native order; the
// receiver seeing the swapped pattern enables byte swapping for the rest of
// the connection. Any other pattern aborts the session.
const (
	MagicToken        uint32 = 0x12345678
	MagicTokenSwapped uint32 = 0x78563412
)

// Message tags sent by a streaming client. Grid snapshots in the server ->
// client direction carry no tag: they are the only message type on that
// path and their length follows from the negotiated geometry.
const (
	TagPoseUpdate uint16 = 0
)

// ElevationMargin is the fraction of the elevation span added on each side
// of the advertised range, leaving quantization headroom for values that
// drift slightly outside the source's nominal domain.
const ElevationMargin = 0.05

var (
	// ErrBadMagic reports a byte-order token that matches neither the
	// native nor the swapped pattern.
	ErrBadMagic = errors.New("wire: invalid byte-order token")

	// ErrBadMessage reports an unrecognized message tag.
	ErrBadMessage = errors.New("wire: invalid message tag")
)

// WriteMagic appends the native byte-order token. The caller flushes.
func WriteMagic(p *Pipe) error {
	return p.WriteUint32(MagicToken)
}

// ReadMagic reads the peer's byte-order token and configures the pipe's
// swap-on-read state accordingly. It must be called before any other read
// on the connection.
func ReadMagic(p *Pipe) error {
	token, err := p.ReadUint32()
	if err != nil {
		return err
	}
	switch token {
	case MagicToken:
		p.SetSwapOnRead(false)
	case MagicTokenSwapped:
		p.SetSwapOnRead(true)
	default:
		return fmt.Errorf("%w: 0x%08x", ErrBadMagic, token)
	}
	return nil
}

// Geometry is the grid metadata negotiated once per connection. It never
// changes for the lifetime of a session; clients size all buffers and
// derive all quantization math from it.
type Geometry struct {
	Width      uint32  `yaml:"width"`
	Height     uint32  `yaml:"height"`
	CellWidth  float32 `yaml:"cell_width"`
	CellHeight float32 `yaml:"cell_height"`

	// Quantization range, margin included on the server side.
	MinElevation float32 `yaml:"min_elevation"`
	MaxElevation float32 `yaml:"max_elevation"`
}

// Validate reports whether the geometry can describe a grid at all.
func (g Geometry) Validate() error {
	if g.Width < 2 || g.Height < 2 {
		return fmt.Errorf("wire: grid size %dx%d too small", g.Width, g.Height)
	}
	if g.CellWidth <= 0 || g.CellHeight <= 0 {
		return fmt.Errorf("wire: non-positive cell size %gx%g", g.CellWidth, g.CellHeight)
	}
	if !(g.MinElevation < g.MaxElevation) {
		return fmt.Errorf("wire: empty elevation range [%g,%g]", g.MinElevation, g.MaxElevation)
	}
	return nil
}

// BathymetryLen returns the number of cell-centered bathymetry samples.
func (g Geometry) BathymetryLen() int {
	return int(g.Width-1) * int(g.Height-1)
}

// WaterLevelLen returns the number of vertex-centered water level samples.
func (g Geometry) WaterLevelLen() int {
	return int(g.Width) * int(g.Height)
}

// Extent returns the grid's total size in world units.
func (g Geometry) Extent() (w, h float32) {
	return float32(g.Width) * g.CellWidth, float32(g.Height) * g.CellHeight
}

// WithElevationMargin returns a copy with the elevation range expanded by
// ElevationMargin of the original span on each side.
func (g Geometry) WithElevationMargin() Geometry {
	span := g.MaxElevation - g.MinElevation
	g.MinElevation -= span * ElevationMargin
	g.MaxElevation += span * ElevationMargin
	return g
}

// WriteGeometry appends the handshake geometry block: width and cell width,
// then height and cell height, then the elevation range. The caller flushes
// together with the preceding byte-order token.
func WriteGeometry(p *Pipe, g Geometry) error {
	if err := p.WriteUint32(g.Width); err != nil {
		return err
	}
	if err := p.WriteFloat32(g.CellWidth); err != nil {
		return err
	}
	if err := p.WriteUint32(g.Height); err != nil {
		return err
	}
	if err := p.WriteFloat32(g.CellHeight); err != nil {
		return err
	}
	if err := p.WriteFloat32(g.MinElevation); err != nil {
		return err
	}
	return p.WriteFloat32(g.MaxElevation)
}

// ReadGeometry reads the handshake geometry block.
func ReadGeometry(p *Pipe) (Geometry, error) {
	var g Geometry
	var err error
	if g.Width, err = p.ReadUint32(); err != nil {
		return g, err
	}
	if g.CellWidth, err = p.ReadFloat32(); err != nil {
		return g, err
	}
	if g.Height, err = p.ReadUint32(); err != nil {
		return g, err
	}
	if g.CellHeight, err = p.ReadFloat32(); err != nil {
		return g, err
	}
	if g.MinElevation, err = p.ReadFloat32(); err != nil {
		return g, err
	}
	if g.MaxElevation, err = p.ReadFloat32(); err != nil {
		return g, err
	}
	return g, g.Validate()
}

// WritePose sends one pose update message and flushes it.
func WritePose(p *Pipe, pos, dir geom.Vec3) error {
	if err := p.WriteUint16(TagPoseUpdate); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := p.WriteFloat32(pos[i]); err != nil {
			return err
		}
	}
	for i := 0; i < 3; i++ {
		if err := p.WriteFloat32(dir[i]); err != nil {
			return err
		}
	}
	return p.Flush()
}

// ReadPoseBody reads the payload of a pose update message, after the tag
// has already been consumed.
func ReadPoseBody(p *Pipe) (pos, dir geom.Vec3, err error) {
	if err = p.ReadFloat32s(pos[:]); err != nil {
		return
	}
	err = p.ReadFloat32s(dir[:])
	return
}
