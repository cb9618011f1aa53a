package raftlog

import (
	"encoding/binary"
	"fmt"
)

// pageHeaderSize is the number of bytes at the start of every page holding
// the remaining-free-bytes field.
const pageHeaderSize = 2

// DefaultPageSize is the page size used when a store is opened without an
// explicit override, matching §3's default.
const DefaultPageSize = 2048

// page is the in-memory representation of one fixed-size on-disk page: a
// header recording how much of the page is unused, followed by packed
// entries, followed by zero padding (§3 invariants P1, P2).
type page struct {
	num       uint32
	size      int // configured page size, constant across all pages in a store
	remaining int // free bytes past the header
	raw       []byte
	entries   []LogEntry
}

// newPage creates an empty page with the full body available for entries.
func newPage(num uint32, pageSize int) *page {
	return &page{
		num:       num,
		size:      pageSize,
		remaining: pageSize - pageHeaderSize,
		raw:       nil,
		entries:   nil,
	}
}

// decodePage parses a raw on-disk page image (exactly pageSize bytes) into
// a page, decoding every packed entry it holds.
func decodePage(num uint32, pageSize int, buf []byte) (*page, error) {
	if len(buf) != pageSize {
		return nil, fmt.Errorf("raftlog: page %d has %d bytes, want %d", num, len(buf), pageSize)
	}
	remaining := int(binary.BigEndian.Uint16(buf[0:pageHeaderSize]))
	if remaining > pageSize-pageHeaderSize {
		return nil, fmt.Errorf("raftlog: page %d has corrupt remaining field %d", num, remaining)
	}
	used := pageSize - pageHeaderSize - remaining
	raw := append([]byte(nil), buf[pageHeaderSize:pageHeaderSize+used]...)

	p := &page{num: num, size: pageSize, remaining: remaining, raw: raw}
	cursor := 0
	for cursor < len(raw) {
		entry, n, err := unmarshalEntry(raw[cursor:])
		if err != nil {
			return nil, fmt.Errorf("raftlog: page %d: %w", num, err)
		}
		p.entries = append(p.entries, entry)
		cursor += n
	}
	return p, nil
}

// encode serializes the page back to its fixed-size on-disk image.
func (p *page) encode() []byte {
	buf := make([]byte, p.size)
	binary.BigEndian.PutUint16(buf[0:pageHeaderSize], uint16(p.remaining))
	copy(buf[pageHeaderSize:], p.raw)
	// the rest of buf is already zero-valued, satisfying the padding invariant.
	return buf
}

// append adds entry (already serialized by the caller) to the tail of the
// page. It reports whether the entry fit; the caller starts a new page on
// false.
func (p *page) append(entry LogEntry, serialized []byte) (fits bool) {
	if len(serialized) > p.remaining {
		return false
	}
	p.raw = append(p.raw, serialized...)
	p.remaining -= len(serialized)
	p.entries = append(p.entries, entry)
	return true
}

// pop removes and returns the last entry on the page. It reports
// ok == false if the page is already empty.
func (p *page) pop() (entry LogEntry, ok bool) {
	if len(p.entries) == 0 {
		return LogEntry{}, false
	}
	last := p.entries[len(p.entries)-1]
	p.entries = p.entries[:len(p.entries)-1]

	serialized, err := last.marshal()
	if err != nil {
		// the entry was already successfully marshaled once to get here.
		panic(fmt.Sprintf("raftlog: re-marshal of popped entry failed: %v", err))
	}
	p.raw = p.raw[:len(p.raw)-len(serialized)]
	p.remaining += len(serialized)
	return last, true
}
