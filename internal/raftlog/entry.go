// Package raftlog implements the durable, page-structured replicated log
// and the append_entries reconciliation rule that keeps it in sync across
// a Raft cluster.
package raftlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// entryHeaderSize is the number of bytes used for the term and item-length
// fields that precede every packed entry: 4 bytes term + 4 bytes length.
const entryHeaderSize = 8

// LogEntry is a single replicated command paired with the term in which it
// was proposed. Item is an opaque, JSON-serializable command payload
// (typically a list whose first element is a verb).
type LogEntry struct {
	Term uint32
	Item any
}

// Equal reports whether two entries have identical term and item. Item
// equality is decided by comparing canonical JSON encodings so that
// structurally-equal values (e.g. a []any built two different ways) compare
// equal the same way two decoded JSON payloads would.
func (e LogEntry) Equal(other LogEntry) bool {
	if e.Term != other.Term {
		return false
	}
	a, aErr := json.Marshal(e.Item)
	b, bErr := json.Marshal(other.Item)
	if aErr != nil || bErr != nil {
		return false
	}
	return string(a) == string(b)
}

// EntryTooLarge is returned when a LogEntry's serialized form cannot fit on
// a freshly-initialized page, i.e. it can never be written regardless of
// page layout. This is a configuration error: the caller chose a command
// payload too large for the configured page size.
type EntryTooLarge struct {
	Size     int
	PageSize int
}

func (e EntryTooLarge) Error() string {
	return fmt.Sprintf("raftlog: entry of %d bytes exceeds usable page capacity of %d bytes (page_size=%d)", e.Size, e.PageSize-2, e.PageSize)
}

// marshal encodes the entry as term:u32 BE, item_len:u32 BE, compact JSON
// item bytes, per §3 of the log format.
func (e LogEntry) marshal() ([]byte, error) {
	item, err := json.Marshal(e.Item)
	if err != nil {
		return nil, fmt.Errorf("raftlog: encode item: %w", err)
	}
	buf := make([]byte, entryHeaderSize+len(item))
	binary.BigEndian.PutUint32(buf[0:4], e.Term)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(item)))
	copy(buf[8:], item)
	return buf, nil
}

// unmarshalEntry decodes one packed entry starting at the head of buf and
// returns the entry plus the number of bytes consumed.
func unmarshalEntry(buf []byte) (LogEntry, int, error) {
	if len(buf) < entryHeaderSize {
		return LogEntry{}, 0, fmt.Errorf("raftlog: truncated entry header")
	}
	term := binary.BigEndian.Uint32(buf[0:4])
	itemLen := binary.BigEndian.Uint32(buf[4:8])
	end := entryHeaderSize + int(itemLen)
	if len(buf) < end {
		return LogEntry{}, 0, fmt.Errorf("raftlog: truncated entry body")
	}
	var item any
	if err := json.Unmarshal(buf[entryHeaderSize:end], &item); err != nil {
		return LogEntry{}, 0, fmt.Errorf("raftlog: decode item: %w", err)
	}
	return LogEntry{Term: term, Item: item}, end, nil
}
