// Package transport implements the length-prefixed framing used to send
// JSON-encoded Raft messages over TCP (§4.H, §6): every frame is a 4-byte
// big-endian length prefix followed by that many bytes of UTF-8 JSON.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds how much a single frame's length prefix can claim,
// guarding against a corrupt or hostile prefix driving an unbounded
// allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes payload to w prefixed with its big-endian u32 length.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("transport: read payload: %w", err)
	}
	return payload, nil
}
