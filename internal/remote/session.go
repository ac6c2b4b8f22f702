package remote

import (
	"github.com/Faultbox/sandtable/internal/dispatch"
	"github.com/Faultbox/sandtable/internal/geom"
	"github.com/Faultbox/sandtable/internal/wire"
)

// sessionState is the per-connection protocol state.
type sessionState int

const (
	// stateHandshake: waiting for the peer's byte-order token.
	stateHandshake sessionState = iota
	// stateStreaming: the peer receives grid broadcasts and sends poses.
	stateStreaming
)

// session is one connected remote viewer. All fields are owned by the
// server's I/O goroutine; a session lives exactly as long as its TCP
// connection and is removed the moment an error or disconnect is observed.
type session struct {
	pipe  *wire.Pipe
	key   dispatch.ListenerKey
	state sessionState

	// Latest reported pose, overwritten in place on every pose message.
	position  geom.Vec3
	direction geom.Vec3
}
