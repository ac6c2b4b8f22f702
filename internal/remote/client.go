package remote

import (
	"errors"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Faultbox/sandtable/internal/dispatch"
	"github.com/Faultbox/sandtable/internal/geom"
	"github.com/Faultbox/sandtable/internal/grid"
	"github.com/Faultbox/sandtable/internal/logger"
	"github.com/Faultbox/sandtable/internal/triplebuf"
	"github.com/Faultbox/sandtable/internal/wire"
)

// Client is the networking half of a remote viewer. A background I/O
// goroutine receives grid snapshots into a triple buffer; the application's
// main tick locks the latest grids, sends its own pose synchronously, and
// never touches the socket-facing reactor.
//
// There is no reconnect: once the connection fails the session is over.
type Client struct {
	pipe     *wire.Pipe
	geometry wire.Geometry

	dispatcher *dispatch.Dispatcher
	done       chan struct{}

	grids *triplebuf.TripleBuffer[grid.Pair]

	// Main-tick-owned: incremented whenever LockGrids adopts a new pair.
	gridVersion uint32

	connected atomic.Bool
}

// Dial connects to a sandbox host, performs the handshake, receives the
// grid geometry, reads one full initial snapshot synchronously (so the
// first frame already has data), and starts the background reactor.
// Connection or handshake failure is unrecoverable and returned.
func Dial(addr string) (*Client, error) {
	fd, err := dialTCP(addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		pipe:  wire.NewPipe(fd),
		grids: triplebuf.New[grid.Pair](),
		done:  make(chan struct{}),
	}

	// The client writes its token first; the server echoes its own ahead
	// of the geometry block.
	if err := wire.WriteMagic(c.pipe); err != nil {
		c.pipe.Close()
		return nil, err
	}
	if err := c.pipe.Flush(); err != nil {
		c.pipe.Close()
		return nil, err
	}
	if err := wire.ReadMagic(c.pipe); err != nil {
		c.pipe.Close()
		return nil, err
	}
	c.geometry, err = wire.ReadGeometry(c.pipe)
	if err != nil {
		c.pipe.Close()
		return nil, err
	}

	// Grid dimensions are fixed for the session: allocate all three slots
	// once, then read the initial snapshot.
	for i := 0; i < 3; i++ {
		c.grids.Slot(i).Init(c.geometry)
	}
	if err := c.readGrids(); err != nil {
		c.pipe.Close()
		return nil, err
	}

	c.dispatcher, err = dispatch.New()
	if err != nil {
		c.pipe.Close()
		return nil, err
	}
	c.connected.Store(true)
	c.dispatcher.AddListener(c.pipe.Fd(), dispatch.Read, c.serverMessage)
	go c.ioLoop()

	logger.Info("connected to sandbox host",
		zap.String("addr", addr),
		zap.Uint32("grid_width", c.geometry.Width),
		zap.Uint32("grid_height", c.geometry.Height))
	return c, nil
}

// Geometry returns the negotiated grid geometry.
func (c *Client) Geometry() wire.Geometry {
	return c.geometry
}

// Connected reports whether the stream is still alive.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// LockGrids adopts the most recently received grid pair if a new one has
// arrived, bumping the grid version. Call once per tick.
func (c *Client) LockGrids() bool {
	if !c.grids.LockNewValue() {
		return false
	}
	c.gridVersion++
	return true
}

// Grids returns the locked grid pair; valid until the next LockGrids call.
func (c *Client) Grids() *grid.Pair {
	return c.grids.LockedValue()
}

// GridVersion identifies the locked grid pair; consumers use it to skip
// re-uploading unchanged data.
func (c *Client) GridVersion() uint32 {
	return c.gridVersion
}

// Underwater reports whether the given head position is below the locked
// water surface.
func (c *Client) Underwater(head geom.Vec3) bool {
	return grid.Underwater(c.grids.LockedValue(), c.geometry, head)
}

// SendPose transmits the viewer's position and view direction. It runs
// synchronously on the caller's tick, outside the event-dispatch loop.
func (c *Client) SendPose(position, direction geom.Vec3) error {
	return wire.WritePose(c.pipe, position, direction)
}

// Close stops the reactor, joins the I/O goroutine, and closes the
// connection, in that order.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.dispatcher.Stop()
	<-c.done
	c.pipe.Close()
	c.dispatcher.Close()
	return nil
}

func (c *Client) ioLoop() {
	defer close(c.done)
	for c.dispatcher.DispatchNextEvent() {
	}
}

// serverMessage handles readiness on the stream. The server only ever
// sends grid snapshots, so there is no tag dispatch: readiness means the
// next snapshot has started to arrive.
func (c *Client) serverMessage(dispatch.ListenerKey, dispatch.Events) bool {
	if err := c.readGrids(); err != nil {
		if errors.Is(err, io.EOF) {
			logger.Info("sandbox host closed the connection")
		} else {
			logger.Warn("grid stream failed", zap.Error(err))
		}
		c.connected.Store(false)
		return true
	}
	return false
}

// readGrids receives one full snapshot into a fresh triple-buffer slot:
// the bathymetry samples, then the water level samples, dequantized with
// the negotiated elevation range.
func (c *Client) readGrids() error {
	gb := c.grids.StartNewValue()
	d := wire.NewDequantizer(c.geometry.MinElevation, c.geometry.MaxElevation)

	for i := range gb.Bathymetry {
		s, err := c.pipe.ReadUint16()
		if err != nil {
			return err
		}
		gb.Bathymetry[i] = d.Dequantize(s)
	}
	for i := range gb.WaterLevel {
		s, err := c.pipe.ReadUint16()
		if err != nil {
			return err
		}
		gb.WaterLevel[i] = d.Dequantize(s)
	}

	c.grids.PostNewValue()
	return nil
}
