// Package protocol turns a stream-oriented connection into discrete frames.
//
// Each frame is a 4-byte big-endian length prefix followed by that many
// payload bytes. The length prefix is how the receiver finds message
// boundaries in the TCP byte stream; a declared length above the configured
// maximum is rejected before any payload is buffered, so a broken or
// malicious peer cannot force unbounded allocation.
//
// This layer carries opaque bytes only. Envelope semantics live one level up.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// lengthSize is the fixed size of the frame length prefix.
	lengthSize = 4

	// DefaultMaxFrameSize bounds a single frame's payload.
	DefaultMaxFrameSize = 16 << 20 // 16 MiB
)

// ErrFrameTooLarge is returned when a frame's declared or actual length
// exceeds the configured maximum. The connection must be closed afterwards:
// the oversized payload is still sitting in the stream, so framing is lost.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Framer reads and writes length-delimited frames over rw.
//
// ReadFrame may be called by at most one goroutine at a time; the same holds
// for WriteFrame. Readers and writers do not block each other.
type Framer struct {
	r        *bufio.Reader
	w        io.Writer
	maxFrame int
}

// NewFramer wraps rw. maxFrame <= 0 selects DefaultMaxFrameSize.
func NewFramer(rw io.ReadWriter, maxFrame int) *Framer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Framer{
		r:        bufio.NewReader(rw),
		w:        rw,
		maxFrame: maxFrame,
	}
}

// WriteFrame writes one frame. The length prefix and payload are written
// with a single Write call so a frame can never be half-issued by this
// layer; callers sharing a connection still serialize WriteFrame calls.
func (f *Framer) WriteFrame(payload []byte) error {
	if len(payload) > f.maxFrame {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), f.maxFrame)
	}
	buf := make([]byte, lengthSize+len(payload))
	binary.BigEndian.PutUint32(buf[:lengthSize], uint32(len(payload)))
	copy(buf[lengthSize:], payload)
	_, err := f.w.Write(buf)
	return err
}

// ReadFrame reads one complete frame, blocking until the length prefix and
// the full payload have arrived. Partial reads are handled by the buffered
// reader plus io.ReadFull.
func (f *Framer) ReadFrame() ([]byte, error) {
	var prefix [lengthSize]byte
	if _, err := io.ReadFull(f.r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if int(length) > f.maxFrame {
		return nil, fmt.Errorf("%w: declared %d > %d", ErrFrameTooLarge, length, f.maxFrame)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
