package raftlog

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// StorageError wraps an I/O failure reading or writing the log file. Per
// §7 it is fatal to the owning node.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("raftlog: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the durable, page-structured representation of a Log described
// in §4.A: an append-only sequence of fixed-size pages backing a logical
// sequence of LogEntry values, with cheap append, pop, and logical slicing.
type Store struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int

	pages []*page
	// starts[i] is the number of entries in pages[0:i], letting Entry/
	// SliceFrom locate the owning page without walking every earlier page.
	starts []int
}

// Open creates the log file if absent, or loads and rebuilds the in-memory
// page list from an existing one. A trailing partial page (file size not a
// multiple of pageSize) is treated as corrupt and discarded, per §4.A.
func Open(path string, pageSize int) (*Store, error) {
	if pageSize <= pageHeaderSize {
		return nil, fmt.Errorf("raftlog: page size %d too small", pageSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &Store{file: f, pageSize: pageSize}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	fi, err := s.file.Stat()
	if err != nil {
		return &StorageError{Op: "stat", Err: err}
	}

	size := fi.Size()
	if rem := size % int64(s.pageSize); rem != 0 {
		size -= rem
		if err := s.file.Truncate(size); err != nil {
			return &StorageError{Op: "truncate corrupt tail", Err: err}
		}
	}

	numPages := int(size / int64(s.pageSize))
	buf := make([]byte, s.pageSize)
	for i := 0; i < numPages; i++ {
		if _, err := s.file.ReadAt(buf, int64(i)*int64(s.pageSize)); err != nil {
			return &StorageError{Op: "read page", Err: err}
		}
		p, err := decodePage(uint32(i), s.pageSize, buf)
		if err != nil {
			return &StorageError{Op: "decode page", Err: err}
		}
		s.pages = append(s.pages, p)
	}

	if len(s.pages) == 0 {
		s.pages = []*page{newPage(0, s.pageSize)}
	}
	s.rebuildStarts()
	return nil
}

func (s *Store) rebuildStarts() {
	s.starts = make([]int, len(s.pages))
	count := 0
	for i, p := range s.pages {
		s.starts[i] = count
		count += len(p.entries)
	}
}

// Append adds entry to the tail of the log, starting a new page if it does
// not fit on the current one, and persisting exactly the page(s) touched.
func (s *Store) Append(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	serialized, err := entry.marshal()
	if err != nil {
		return err
	}
	if len(serialized) > s.pageSize-pageHeaderSize {
		return EntryTooLarge{Size: len(serialized), PageSize: s.pageSize}
	}

	tail := s.pages[len(s.pages)-1]
	if tail.append(entry, serialized) {
		return s.writePage(tail)
	}

	next := newPage(tail.num+1, s.pageSize)
	if !next.append(entry, serialized) {
		// unreachable: we already checked the entry fits a fresh page.
		panic("raftlog: entry does not fit a fresh page after size check")
	}
	s.pages = append(s.pages, next)
	s.starts = append(s.starts, s.starts[len(s.starts)-1]+len(tail.entries))
	return s.writePage(next)
}

// Pop removes and returns the last entry in the log. If the tail page
// becomes empty and is not page 0, the file is truncated to drop that page.
// If the tail page is already empty (and not page 0) when Pop is called, it
// is dropped the same way and the new tail's last entry is popped instead,
// so no empty trailing page is ever left behind except page 0 on an empty
// log.
func (s *Store) Pop() (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.pages[len(s.pages)-1]
	entry, ok := tail.pop()
	if ok {
		if len(tail.entries) == 0 && tail.num != 0 {
			if err := s.file.Truncate(int64(tail.num) * int64(s.pageSize)); err != nil {
				return LogEntry{}, &StorageError{Op: "truncate", Err: err}
			}
			s.pages = s.pages[:len(s.pages)-1]
			s.starts = s.starts[:len(s.starts)-1]
			return entry, nil
		}
		if err := s.writePage(tail); err != nil {
			return LogEntry{}, err
		}
		return entry, nil
	}

	if tail.num == 0 {
		return LogEntry{}, fmt.Errorf("raftlog: pop from empty log")
	}

	if err := s.file.Truncate(int64(tail.num) * int64(s.pageSize)); err != nil {
		return LogEntry{}, &StorageError{Op: "truncate", Err: err}
	}
	s.pages = s.pages[:len(s.pages)-1]
	s.starts = s.starts[:len(s.starts)-1]

	newTail := s.pages[len(s.pages)-1]
	entry, ok = newTail.pop()
	if !ok {
		return LogEntry{}, fmt.Errorf("raftlog: pop found unexpectedly empty page")
	}
	if err := s.writePage(newTail); err != nil {
		return LogEntry{}, err
	}
	return entry, nil
}

func (s *Store) writePage(p *page) error {
	if _, err := s.file.WriteAt(p.encode(), int64(p.num)*int64(s.pageSize)); err != nil {
		return &StorageError{Op: "write page", Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &StorageError{Op: "fsync", Err: err}
	}
	return nil
}

// Len returns the number of entries currently in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len()
}

func (s *Store) len() int {
	last := s.pages[len(s.pages)-1]
	return s.starts[len(s.starts)-1] + len(last.entries)
}

// Entry returns the entry at logical index i.
func (s *Store) Entry(i int) (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pageIdx, offset, err := s.locate(i)
	if err != nil {
		return LogEntry{}, err
	}
	return s.pages[pageIdx].entries[offset], nil
}

// SliceFrom returns a copy of all entries from logical index i to the end
// of the log (Go's equivalent of the paper's log[i:] slicing).
func (s *Store) SliceFrom(i int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.len()
	if i < 0 || i > n {
		return nil, fmt.Errorf("raftlog: index %d out of range [0,%d]", i, n)
	}
	if i == n {
		return nil, nil
	}

	pageIdx, offset, err := s.locate(i)
	if err != nil {
		return nil, err
	}

	out := make([]LogEntry, 0, n-i)
	out = append(out, s.pages[pageIdx].entries[offset:]...)
	for _, p := range s.pages[pageIdx+1:] {
		out = append(out, p.entries...)
	}
	return out, nil
}

// locate finds which page holds logical index i via the starts cache
// (binary search), without materializing the full entry list.
func (s *Store) locate(i int) (pageIdx, offset int, err error) {
	if i < 0 || i >= s.len() {
		return 0, 0, fmt.Errorf("raftlog: index %d out of range", i)
	}
	pageIdx = sort.Search(len(s.starts), func(k int) bool {
		return s.starts[k] > i
	}) - 1
	return pageIdx, i - s.starts[pageIdx], nil
}

// Iter returns a snapshot of every entry in the log, in order.
func (s *Store) Iter() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, 0, s.len())
	for _, p := range s.pages {
		out = append(out, p.entries...)
	}
	return out
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}
