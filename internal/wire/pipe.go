// Package wire implements the sandtable streaming protocol: the buffered
// TCP pipe with byte-order negotiation, the handshake and geometry codec,
// pose messages, and 16-bit elevation quantization.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	gomath "math"

	"golang.org/x/sys/unix"
)

const (
	readBufSize  = 16384
	writeBufSize = 16384
)

// Pipe is a buffered reader/writer over a connected socket descriptor.
// Fields are encoded in the sender's native byte order; after byte-order
// negotiation the reading side byte-swaps every fixed-width field when the
// peer's order differs.
//
// Reads and writes use independent buffers, so one goroutine may read while
// another writes, but each direction supports only a single goroutine.
type Pipe struct {
	fd   int
	swap bool

	rbuf       []byte
	rpos, rend int

	wbuf []byte
	wend int
}

// NewPipe wraps a connected socket descriptor. The pipe takes ownership of
// the descriptor; Close releases it.
func NewPipe(fd int) *Pipe {
	return &Pipe{
		fd:   fd,
		rbuf: make([]byte, readBufSize),
		wbuf: make([]byte, writeBufSize),
	}
}

// Fd returns the underlying socket descriptor, for event registration.
func (p *Pipe) Fd() int {
	return p.fd
}

// SetSwapOnRead enables or disables byte swapping of all subsequently read
// fields. Set once, after reading the peer's byte-order token.
func (p *Pipe) SetSwapOnRead(swap bool) {
	p.swap = swap
}

// Close closes the underlying descriptor.
func (p *Pipe) Close() error {
	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("closing socket: %w", err)
	}
	return nil
}

// need makes at least n contiguous unread bytes available in the read
// buffer, blocking on the socket as required. A peer close mid-field
// surfaces as io.ErrUnexpectedEOF; a clean close at a field boundary as
// io.EOF.
func (p *Pipe) need(n int) error {
	if p.rend-p.rpos >= n {
		return nil
	}
	if p.rpos > 0 {
		copy(p.rbuf, p.rbuf[p.rpos:p.rend])
		p.rend -= p.rpos
		p.rpos = 0
	}
	for p.rend < n {
		got, err := unix.Read(p.fd, p.rbuf[p.rend:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading from socket: %w", err)
		}
		if got == 0 {
			if p.rend == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		p.rend += got
	}
	return nil
}

// ReadUint16 reads one 16-bit unsigned field.
func (p *Pipe) ReadUint16() (uint16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint16(p.rbuf[p.rpos:])
	p.rpos += 2
	if p.swap {
		v = v<<8 | v>>8
	}
	return v, nil
}

// ReadUint32 reads one 32-bit unsigned field.
func (p *Pipe) ReadUint32() (uint32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint32(p.rbuf[p.rpos:])
	p.rpos += 4
	if p.swap {
		v = swap32(v)
	}
	return v, nil
}

// ReadFloat32 reads one 32-bit float field.
func (p *Pipe) ReadFloat32() (float32, error) {
	v, err := p.ReadUint32()
	if err != nil {
		return 0, err
	}
	return gomath.Float32frombits(v), nil
}

// ReadFloat32s fills dst with consecutive 32-bit float fields.
func (p *Pipe) ReadFloat32s(dst []float32) error {
	for i := range dst {
		v, err := p.ReadFloat32()
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// WriteUint16 appends one 16-bit unsigned field to the write buffer,
// flushing first if the buffer is full.
func (p *Pipe) WriteUint16(v uint16) error {
	if err := p.reserve(2); err != nil {
		return err
	}
	binary.NativeEndian.PutUint16(p.wbuf[p.wend:], v)
	p.wend += 2
	return nil
}

// WriteUint32 appends one 32-bit unsigned field to the write buffer.
func (p *Pipe) WriteUint32(v uint32) error {
	if err := p.reserve(4); err != nil {
		return err
	}
	binary.NativeEndian.PutUint32(p.wbuf[p.wend:], v)
	p.wend += 4
	return nil
}

// WriteFloat32 appends one 32-bit float field to the write buffer.
func (p *Pipe) WriteFloat32(v float32) error {
	return p.WriteUint32(gomath.Float32bits(v))
}

// Flush writes all buffered data to the socket.
func (p *Pipe) Flush() error {
	pos := 0
	for pos < p.wend {
		n, err := unix.Write(p.fd, p.wbuf[pos:p.wend])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.wend = 0
			return fmt.Errorf("writing to socket: %w", err)
		}
		pos += n
	}
	p.wend = 0
	return nil
}

func (p *Pipe) reserve(n int) error {
	if p.wend+n > len(p.wbuf) {
		return p.Flush()
	}
	return nil
}

func swap32(v uint32) uint32 {
	return v<<24 | v&0xff00<<8 | v>>8&0xff00 | v>>24
}
