// Package remote connects remote bathymetry and water level viewers to a
// sandbox host: the server session manager that broadcasts grid snapshots
// and aggregates viewer poses, and the client session that receives
// snapshots and reports its own pose.
package remote

import (
	"errors"
	"fmt"
	"io"
	gomath "math"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Faultbox/sandtable/internal/dispatch"
	"github.com/Faultbox/sandtable/internal/geom"
	"github.com/Faultbox/sandtable/internal/grid"
	"github.com/Faultbox/sandtable/internal/logger"
	"github.com/Faultbox/sandtable/internal/triplebuf"
	"github.com/Faultbox/sandtable/internal/wire"
)

// forward is the canonical view direction a viewer's reported direction is
// rotated from when building pose transforms.
var forward = geom.Vec3{0, 0, -1}

// ServerOptions configures a Server.
type ServerOptions struct {
	// Port to listen on; 0 picks an ephemeral port.
	Port int

	// Geometry of the grids the source produces, with the source's true
	// elevation range. The server expands the range by the protocol's
	// quantization margin before advertising it.
	Geometry wire.Geometry

	// RequestInterval is the time between grid requests, in seconds of
	// application time.
	RequestInterval float64
}

// Server accepts remote viewer connections, pushes a quantized snapshot of
// every refreshed grid pair to all streaming peers, and aggregates peer
// poses for the host to render.
//
// Three execution contexts interact: the host's frame tick calls Frame and
// Poses, the grid source calls the readback completion from its own
// context, and an internal I/O goroutine does everything that touches
// sockets or sessions.
type Server struct {
	geometry        wire.Geometry
	source          GridSource
	requestInterval float64
	nextRequestTime float64

	dispatcher *dispatch.Dispatcher
	listenFd   int
	port       int

	// I/O-goroutine-owned.
	sessions []*session

	// Number of sessions in streaming state; read by Frame to decide
	// whether grid requests are worth making.
	numStreaming atomic.Int32

	// Set between an accepted grid request and its completion. While a
	// fill is in flight the source owns the write slot; Frame must not
	// touch it. Clearing after PostNewValue also orders the next
	// StartNewValue read of the slot index after the completed publish.
	requestPending atomic.Bool

	grids *triplebuf.TripleBuffer[grid.Pair]
	poses *triplebuf.TripleBuffer[[]geom.Transform]

	done chan struct{}
}

// NewServer creates a server and starts its I/O goroutine. Failure to bind
// the listen socket is unrecoverable and returned to the caller.
func NewServer(opts ServerOptions, source GridSource) (*Server, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	if opts.RequestInterval <= 0 {
		return nil, fmt.Errorf("remote: non-positive request interval %g", opts.RequestInterval)
	}

	s := &Server{
		geometry:        opts.Geometry.WithElevationMargin(),
		source:          source,
		requestInterval: opts.RequestInterval,
		grids:           triplebuf.New[grid.Pair](),
		poses:           triplebuf.New[[]geom.Transform](),
		done:            make(chan struct{}),
	}
	for i := 0; i < 3; i++ {
		s.grids.Slot(i).Init(s.geometry)
	}

	var err error
	s.dispatcher, err = dispatch.New()
	if err != nil {
		return nil, err
	}
	s.listenFd, s.port, err = listenTCP(opts.Port)
	if err != nil {
		s.dispatcher.Close()
		return nil, err
	}

	s.dispatcher.AddListener(s.listenFd, dispatch.Read, s.acceptConnection)
	go s.ioLoop()

	logger.Info("remote server listening",
		zap.Int("port", s.port),
		zap.Uint32("grid_width", s.geometry.Width),
		zap.Uint32("grid_height", s.geometry.Height))
	return s, nil
}

// Port returns the bound listen port.
func (s *Server) Port() int {
	return s.port
}

// Geometry returns the advertised grid geometry, margin included.
func (s *Server) Geometry() wire.Geometry {
	return s.geometry
}

// StreamingPeers returns the number of peers past the handshake. Safe to
// call from any goroutine.
func (s *Server) StreamingPeers() int {
	return int(s.numStreaming.Load())
}

// Frame drives the server from the host's frame tick: it locks the most
// recent peer pose list and, when peers are streaming, the request timer
// has elapsed, and no fill is in flight, asks the grid source for fresh
// grids. It never blocks on the network.
func (s *Server) Frame(applicationTime float64) {
	s.poses.LockNewValue()

	if s.numStreaming.Load() > 0 && applicationTime >= s.nextRequestTime && !s.requestPending.Load() {
		s.requestPending.Store(true)
		gb := s.grids.StartNewValue()
		if s.source.RequestGrids(gb.Bathymetry, gb.WaterLevel, s.gridsReady) {
			s.nextRequestTime = (gomath.Floor(applicationTime/s.requestInterval) + 1) * s.requestInterval
		} else {
			s.requestPending.Store(false)
		}
	}
}

// Poses returns the most recently locked list of streaming peer transforms:
// translation is the peer position relative to the grid center, rotation
// maps the canonical forward direction onto the peer's view direction. The
// slice stays valid until the next Frame call.
func (s *Server) Poses() []geom.Transform {
	return *s.poses.LockedValue()
}

// Close shuts the server down: dispatcher stopped, I/O goroutine joined,
// then all per-session resources freed, in that order.
func (s *Server) Close() error {
	s.dispatcher.Stop()
	<-s.done

	unix.Close(s.listenFd)
	for _, sess := range s.sessions {
		sess.pipe.Close()
	}
	s.sessions = nil
	s.dispatcher.Close()
	return nil
}

// gridsReady is the readback completion: the source has fully populated the
// buffers handed out in Frame. Publish them and wake the I/O goroutine.
func (s *Server) gridsReady() {
	s.grids.PostNewValue()
	s.requestPending.Store(false)
	s.dispatcher.Interrupt()
}

func (s *Server) ioLoop() {
	defer close(s.done)
	for s.dispatcher.DispatchNextEvent() {
		s.collectPoses()
		if s.grids.LockNewValue() {
			s.broadcast(s.grids.LockedValue())
		}
	}
}

// collectPoses snapshots the pose of every streaming peer into the pose
// triple buffer, once per dispatch iteration.
func (s *Server) collectPoses() {
	extentW, extentH := s.geometry.Extent()
	center := geom.Vec3{extentW / 2, extentH / 2, 0}

	out := s.poses.StartNewValue()
	*out = (*out)[:0]
	for _, sess := range s.sessions {
		if sess.state != stateStreaming {
			continue
		}
		*out = append(*out, geom.Transform{
			Translation: sess.position.Sub(center),
			Rot:         geom.RotateFromTo(forward, sess.direction),
		})
	}
	s.poses.PostNewValue()
}

// broadcast writes the full quantized grid pair to every streaming peer.
// Quantization factors depend only on the session-independent elevation
// range, so they are computed once per broadcast. A peer whose write fails
// is collected and removed after the pass; its failure does not affect
// delivery to any other peer.
func (s *Server) broadcast(pair *grid.Pair) {
	q := wire.NewQuantizer(s.geometry.MinElevation, s.geometry.MaxElevation)

	var dead []*session
	for _, sess := range s.sessions {
		if sess.state != stateStreaming {
			continue
		}
		if err := writeSnapshot(sess.pipe, q, pair); err != nil {
			logger.Warn("disconnecting peer: snapshot write failed", zap.Error(err))
			dead = append(dead, sess)
		}
	}
	for _, sess := range dead {
		s.disconnect(sess, true)
	}
}

func writeSnapshot(p *wire.Pipe, q wire.Quantizer, pair *grid.Pair) error {
	for _, v := range pair.Bathymetry {
		if err := p.WriteUint16(q.Quantize(v)); err != nil {
			return err
		}
	}
	for _, v := range pair.WaterLevel {
		if err := p.WriteUint16(q.Quantize(v)); err != nil {
			return err
		}
	}
	return p.Flush()
}

// acceptConnection handles readiness on the listen socket: accept exactly
// one pending connection, send the handshake synchronously, and register
// the new session. Any failure discards the half-built session without
// registering it.
func (s *Server) acceptConnection(dispatch.ListenerKey, dispatch.Events) bool {
	fd, _, err := unix.Accept(s.listenFd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			logger.Warn("accept failed", zap.Error(err))
		}
		return false
	}

	sess := &session{pipe: wire.NewPipe(fd), state: stateHandshake}
	if err := s.sendHandshake(sess.pipe); err != nil {
		logger.Warn("discarding new peer: handshake write failed", zap.Error(err))
		sess.pipe.Close()
		return false
	}

	sess.key = s.dispatcher.AddListener(fd, dispatch.Read, func(key dispatch.ListenerKey, _ dispatch.Events) bool {
		return s.sessionMessage(sess)
	})
	s.sessions = append(s.sessions, sess)
	logger.Info("peer connected", zap.Int("peers", len(s.sessions)))
	return false
}

// sendHandshake writes the byte-order token and the grid geometry as one
// coalesced flush.
func (s *Server) sendHandshake(p *wire.Pipe) error {
	if err := wire.WriteMagic(p); err != nil {
		return err
	}
	if err := wire.WriteGeometry(p, s.geometry); err != nil {
		return err
	}
	return p.Flush()
}

// sessionMessage advances one peer's state machine on socket readiness. Any
// protocol or I/O error is handled here: the session is logged, removed,
// and its listener deregistered via the return value. Errors never
// propagate across the dispatch loop.
func (s *Server) sessionMessage(sess *session) bool {
	if err := s.readMessage(sess); err != nil {
		if errors.Is(err, io.EOF) {
			logger.Info("peer disconnected")
		} else {
			logger.Warn("disconnecting peer", zap.Error(err))
		}
		s.disconnect(sess, false)
		return true
	}
	return false
}

func (s *Server) readMessage(sess *session) error {
	switch sess.state {
	case stateHandshake:
		if err := wire.ReadMagic(sess.pipe); err != nil {
			return err
		}
		sess.state = stateStreaming
		s.numStreaming.Add(1)
		return nil

	case stateStreaming:
		tag, err := sess.pipe.ReadUint16()
		if err != nil {
			return err
		}
		switch tag {
		case wire.TagPoseUpdate:
			sess.position, sess.direction, err = wire.ReadPoseBody(sess.pipe)
			return err
		default:
			return fmt.Errorf("%w: %d", wire.ErrBadMessage, tag)
		}
	}
	return nil
}

// disconnect removes a session from the active set, closing its socket and
// adjusting the streaming count. removeListener is false when called from
// the session's own callback, which signals removal through its return
// value instead.
func (s *Server) disconnect(sess *session, removeListener bool) {
	for i, cand := range s.sessions {
		if cand != sess {
			continue
		}
		if sess.state == stateStreaming {
			s.numStreaming.Add(-1)
		}
		if removeListener {
			s.dispatcher.RemoveListener(sess.key)
		}
		s.sessions[i] = s.sessions[len(s.sessions)-1]
		s.sessions = s.sessions[:len(s.sessions)-1]
		sess.pipe.Close()
		break
	}
}
