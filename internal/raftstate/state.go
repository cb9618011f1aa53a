package raftstate

import (
	"path/filepath"

	"github.com/mrshabel/raftkv/internal/raftlog"
)

// Status is a node's current Raft role.
type Status int

const (
	Follower Status = iota
	Candidate
	Leader
)

func (s Status) String() string {
	switch s {
	case Follower:
		return "FOLLOWER"
	case Candidate:
		return "CANDIDATE"
	case Leader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// NoEntry is the sentinel used for commit_index, last_applied, prev_index
// and prev_term when there is "no entry" (§9 design notes). It is spelled
// out as a named constant rather than relying on -1 floating through the
// code unexplained.
const NoEntry int64 = -1

// State is the per-node RaftState of §3: role, term, vote, votes, the
// owned log, and the leader-only replication bookkeeping.
type State struct {
	Status Status

	cells *durableCells
	Log   *raftlog.Store

	Votes map[string]struct{}

	CommitIndex int64
	LastApplied int64

	// NextIndex and MatchIndex are leader-only; populated on promotion.
	NextIndex  map[string]int64
	MatchIndex map[string]int64
}

// Open loads (or initializes) a node's durable state from storageDir: its
// paged log file, term file, and vote file.
func Open(storageDir, nodeID string, pageSize int) (*State, error) {
	cells, err := openDurableCells(storageDir, nodeID)
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(storageDir, nodeID+".log")
	log, err := raftlog.Open(logPath, pageSize)
	if err != nil {
		return nil, err
	}

	return &State{
		Status:      Follower,
		cells:       cells,
		Log:         log,
		Votes:       make(map[string]struct{}),
		CommitIndex: NoEntry,
		LastApplied: NoEntry,
	}, nil
}

// CurrentTerm returns the in-memory (durably-backed) current term.
func (s *State) CurrentTerm() uint32 { return s.cells.CurrentTerm() }

// SetCurrentTerm persists and updates current_term. The caller (§4.F) is
// responsible for never regressing the term.
func (s *State) SetCurrentTerm(term uint32) error {
	return s.cells.SetCurrentTerm(term)
}

// VotedFor returns the node voted for in the current term, if any.
func (s *State) VotedFor() (candidate string, ok bool) {
	return s.cells.VotedFor()
}

// SetVotedFor persists and updates voted_for; candidate == "" clears it.
func (s *State) SetVotedFor(candidate string) error {
	return s.cells.SetVotedFor(candidate)
}

// LastLogIndexAndTerm returns the index and term of the last log entry, or
// (NoEntry, -1) for an empty log.
func (s *State) LastLogIndexAndTerm() (index int64, term int32, err error) {
	n := int64(s.Log.Len())
	if n == 0 {
		return NoEntry, -1, nil
	}
	e, err := s.Log.Entry(int(n - 1))
	if err != nil {
		return 0, 0, err
	}
	return n - 1, int32(e.Term), nil
}

// AppendEntries applies the reconciliation rule (§4.C) to this node's log.
func (s *State) AppendEntries(prevIndex int64, prevTerm int32, entries []raftlog.LogEntry) (bool, error) {
	return raftlog.AppendEntries(s.Log, prevIndex, prevTerm, entries)
}

// BecomeLeader transitions to LEADER and initializes next_index/match_index
// for every node in nodes (peers plus self), per §4.F's per-role invariants.
func (s *State) BecomeLeader(nodes []string) {
	s.Status = Leader
	logLen := int64(s.Log.Len())
	s.NextIndex = make(map[string]int64, len(nodes))
	s.MatchIndex = make(map[string]int64, len(nodes))
	for _, n := range nodes {
		s.NextIndex[n] = logLen
		s.MatchIndex[n] = NoEntry
	}
}

// BecomeFollower transitions to FOLLOWER and durably clears voted_for.
func (s *State) BecomeFollower() error {
	s.Status = Follower
	return s.SetVotedFor("")
}

// BecomeCandidate transitions to CANDIDATE: bumps current_term, votes for
// self, and resets the vote set to {self}.
func (s *State) BecomeCandidate(nodeID string) error {
	s.Status = Candidate
	if err := s.SetCurrentTerm(s.CurrentTerm() + 1); err != nil {
		return err
	}
	if err := s.SetVotedFor(nodeID); err != nil {
		return err
	}
	s.Votes = map[string]struct{}{nodeID: {}}
	return nil
}

// Close releases the node's log file handle.
func (s *State) Close() error {
	return s.Log.Close()
}
