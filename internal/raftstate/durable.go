// Package raftstate holds the in-memory Raft state (§3 RaftState) and the
// durable cells (current_term, voted_for) whose persistence guarantees are
// what make Raft safe across crashes (§4.D).
package raftstate

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// StorageError wraps an I/O failure persisting current_term or voted_for.
// Per §7 it is fatal to the owning node.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("raftstate: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// durableCells persists current_term and voted_for to <node>.term and
// <node>.vote files under the node's storage directory. Every setter
// writes through to disk before returning, matching the original's
// property-setter pattern in nidus/state.py.
type durableCells struct {
	termPath string
	votePath string

	term     uint32
	votedFor string // "" means None
	hasVote  bool
}

func openDurableCells(storageDir, nodeID string) (*durableCells, error) {
	d := &durableCells{
		termPath: filepath.Join(storageDir, nodeID+".term"),
		votePath: filepath.Join(storageDir, nodeID+".vote"),
	}

	term, err := readTermFile(d.termPath)
	if err != nil {
		return nil, err
	}
	d.term = term

	vote, ok, err := readVoteFile(d.votePath)
	if err != nil {
		return nil, err
	}
	d.votedFor, d.hasVote = vote, ok

	return d, nil
}

func readTermFile(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if f, cerr := os.Create(path); cerr == nil {
				f.Close()
			} else {
				return 0, &StorageError{Op: "create term file", Err: cerr}
			}
			return 0, nil
		}
		return 0, &StorageError{Op: "read term file", Err: err}
	}
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) != 4 {
		return 0, &StorageError{Op: "read term file", Err: fmt.Errorf("corrupt term file: %d bytes", len(data))}
	}
	return binary.BigEndian.Uint32(data), nil
}

func readVoteFile(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if f, cerr := os.Create(path); cerr == nil {
				f.Close()
			} else {
				return "", false, &StorageError{Op: "create vote file", Err: cerr}
			}
			return "", false, nil
		}
		return "", false, &StorageError{Op: "read vote file", Err: err}
	}
	if len(data) == 0 {
		return "", false, nil
	}
	return string(data), true, nil
}

// CurrentTerm returns the in-memory cached term.
func (d *durableCells) CurrentTerm() uint32 { return d.term }

// SetCurrentTerm persists term before updating the in-memory value.
func (d *durableCells) SetCurrentTerm(term uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, term)
	if err := os.WriteFile(d.termPath, buf, 0644); err != nil {
		return &StorageError{Op: "write term file", Err: err}
	}
	d.term = term
	return nil
}

// VotedFor returns the candidate voted for this term, and whether a vote
// has been cast at all.
func (d *durableCells) VotedFor() (candidate string, ok bool) {
	return d.votedFor, d.hasVote
}

// SetVotedFor persists candidate (or clears the file when candidate == "")
// before updating the in-memory value.
func (d *durableCells) SetVotedFor(candidate string) error {
	var data []byte
	if candidate != "" {
		data = []byte(candidate)
	}
	if err := os.WriteFile(d.votePath, data, 0644); err != nil {
		return &StorageError{Op: "write vote file", Err: err}
	}
	d.votedFor = candidate
	d.hasVote = candidate != ""
	return nil
}
