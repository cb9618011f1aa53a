// Package raftnode implements the Raft role state machine (§4.F) as an
// actor.Handler: one goroutine dispatches messages to a Node's
// HandleMessage one at a time, in arrival order, so the node never needs
// its own lock (§5).
package raftnode

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/actor"
	"github.com/mrshabel/raftkv/internal/raftlog"
	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/raftstate"
)

// StateMachine is whatever committed log entries are applied to; the
// bucketed kvstore.Store is the reference implementation (§4.I).
type StateMachine interface {
	Apply(item any) (any, error)
}

// Sender is the narrow surface a Node needs from Network, kept as an
// interface so tests can substitute an in-process fake instead of driving
// real TCP and timers, the way the original's SyncSystem stands in for
// its threaded actor runtime in unit tests.
type Sender interface {
	Send(target Target, msg raftmsg.Message)
	ResolveNode(id string) (actor.Addr, bool)
}

// Node is one Raft participant: its own durable log and state, a view of
// the cluster via Network, and the bookkeeping needed to answer clients.
type Node struct {
	ID     string
	logger *zap.Logger

	state *raftstate.State
	net   Sender
	sm    StateMachine

	peers    []string // every other node id
	allNodes []string // peers plus self

	heartbeatInterval time.Duration

	leaderID        string
	clientCallbacks map[int64]actor.Addr

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	rng randSource
}

// randSource is the minimal surface Node needs from math/rand, narrowed
// so tests can substitute a deterministic source.
type randSource interface {
	Int63n(n int64) int64
}

// Config bundles what New needs to build a Node.
type Config struct {
	ID                string
	Peers             []string
	State             *raftstate.State
	Net               Sender
	StateMachine      StateMachine
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
	Rand              randSource
}

// New builds a Node in the FOLLOWER role with its election timer armed.
// Per §4.F every node starts a follower.
func New(cfg Config) *Node {
	all := make([]string, 0, len(cfg.Peers)+1)
	all = append(all, cfg.ID)
	all = append(all, cfg.Peers...)

	n := &Node{
		ID:                cfg.ID,
		logger:            cfg.Logger,
		state:             cfg.State,
		net:               cfg.Net,
		sm:                cfg.StateMachine,
		peers:             cfg.Peers,
		allNodes:          all,
		heartbeatInterval: cfg.HeartbeatInterval,
		clientCallbacks:   make(map[int64]actor.Addr),
		rng:               cfg.Rand,
	}
	n.resetElectionTimer()
	return n
}

// HandleMessage is the actor's single exhaustive dispatcher (§9 design
// notes): one type switch in place of the original's handler-by-name
// lookup.
func (n *Node) HandleMessage(msg raftmsg.Message) {
	switch m := msg.(type) {
	case raftmsg.HeartbeatRequest:
		n.handleHeartbeatRequest(m)
	case raftmsg.ClientRequest:
		n.handleClientRequest(m)
	case raftmsg.AppendEntriesRequest:
		n.handleAppendEntriesRequest(m)
	case raftmsg.AppendEntriesResponse:
		n.handleAppendEntriesResponse(m)
	case raftmsg.VoteRequest:
		n.handleVoteRequest(m)
	case raftmsg.VoteResponse:
		n.handleVoteResponse(m)
	case raftmsg.ElectionRequest:
		n.handleElectionRequest(m)
	default:
		n.logger.Debug("dropping unhandled message type", zap.String("go_type", fmt.Sprintf("%T", m)))
	}
}

// handleHeartbeatRequest is self-addressed and leader-only: it builds an
// AppendEntriesRequest per peer and reschedules itself (§4.F).
func (n *Node) handleHeartbeatRequest(m raftmsg.HeartbeatRequest) {
	if n.state.Status != raftstate.Leader {
		return
	}
	for _, peer := range n.peers {
		req, err := n.buildAppendEntriesRequest(peer, m.Empty)
		if err != nil {
			n.logger.Error("building append_entries_request failed", zap.Error(err))
			continue
		}
		n.net.Send(ToNode(peer), req)
	}
	n.scheduleHeartbeat()
}

func (n *Node) buildAppendEntriesRequest(peer string, empty bool) (raftmsg.AppendEntriesRequest, error) {
	nextIdx := n.state.NextIndex[peer]
	prevIndex := nextIdx - 1
	prevTerm := int32(-1)
	if prevIndex >= 0 {
		e, err := n.state.Log.Entry(int(prevIndex))
		if err != nil {
			return raftmsg.AppendEntriesRequest{}, err
		}
		prevTerm = int32(e.Term)
	}

	var entries []raftlog.LogEntry
	if !empty {
		var err error
		entries, err = n.state.Log.SliceFrom(int(nextIdx))
		if err != nil {
			return raftmsg.AppendEntriesRequest{}, err
		}
	}

	return raftmsg.AppendEntriesRequest{
		Sender:      n.ID,
		Term:        n.state.CurrentTerm(),
		PrevIndex:   prevIndex,
		PrevTerm:    prevTerm,
		Entries:     raftmsg.EntriesToWire(entries),
		CommitIndex: n.state.CommitIndex,
	}, nil
}

// handleClientRequest appends command to the log as a new entry when this
// node is leader, or redirects the client otherwise (§4.F, S4).
func (n *Node) handleClientRequest(m raftmsg.ClientRequest) {
	sender := actor.Addr{Host: m.Sender.Host, Port: m.Sender.Port}

	if n.state.Status != raftstate.Leader {
		reply := raftmsg.ClientResponse{Result: fmt.Sprintf("NotLeader: reconnect to %s", n.leaderAddrDescription())}
		n.net.Send(ToAddr(sender), reply)
		return
	}

	prevIndex, prevTerm, err := n.state.LastLogIndexAndTerm()
	if err != nil {
		n.logger.Fatal("reading last log index/term failed", zap.Error(err))
		return
	}

	entry := raftlog.LogEntry{Term: n.state.CurrentTerm(), Item: m.Command}
	ok, err := n.state.AppendEntries(prevIndex, prevTerm, []raftlog.LogEntry{entry})
	if err != nil {
		n.logger.Fatal("appending client entry failed", zap.Error(err))
		return
	}
	if !ok {
		n.logger.Fatal("leader append_entries rejected its own entry; invariant violated")
		return
	}

	newIndex := prevIndex + 1
	n.state.MatchIndex[n.ID] = newIndex
	n.state.NextIndex[n.ID] = newIndex + 1
	n.clientCallbacks[newIndex] = sender
}

func (n *Node) leaderAddrDescription() string {
	addr, ok := n.net.ResolveNode(n.leaderID)
	if !ok {
		return "?"
	}
	return addr.String()
}

// handleAppendEntriesRequest reconciles the leader's entries into this
// node's log and advances commit_index (§4.F steps 1-9).
func (n *Node) handleAppendEntriesRequest(m raftmsg.AppendEntriesRequest) {
	n.resetElectionTimer()

	if n.state.Status != raftstate.Follower {
		n.demote()
	}
	if m.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(m.Term); err != nil {
			n.logger.Fatal("persisting current_term failed", zap.Error(err))
			return
		}
	}
	n.leaderID = m.Sender

	if m.Term < n.state.CurrentTerm() {
		n.net.Send(ToNode(m.Sender), raftmsg.AppendEntriesResponse{
			Sender:     n.ID,
			Term:       n.state.CurrentTerm(),
			Success:    false,
			MatchIndex: int64(n.state.Log.Len()) - 1,
		})
		return
	}

	entries := raftmsg.EntriesFromWire(m.Entries)
	ok, err := n.state.AppendEntries(m.PrevIndex, m.PrevTerm, entries)
	if err != nil {
		n.logger.Fatal("append_entries storage failure", zap.Error(err))
		return
	}

	var matchIndex int64
	if ok {
		matchIndex = int64(n.state.Log.Len()) - 1
		if m.CommitIndex > n.state.CommitIndex {
			if m.CommitIndex < matchIndex {
				n.state.CommitIndex = m.CommitIndex
			} else {
				n.state.CommitIndex = matchIndex
			}
		}
	} else {
		matchIndex = 0
	}

	n.net.Send(ToNode(m.Sender), raftmsg.AppendEntriesResponse{
		Sender:     n.ID,
		Term:       n.state.CurrentTerm(),
		Success:    ok,
		MatchIndex: matchIndex,
	})
	n.runApplyLoop()
}

// handleAppendEntriesResponse drives replication catch-up and commit
// advancement on the leader (§4.F steps 1-7).
func (n *Node) handleAppendEntriesResponse(m raftmsg.AppendEntriesResponse) {
	if m.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(m.Term); err != nil {
			n.logger.Fatal("persisting current_term failed", zap.Error(err))
			return
		}
		n.demote()
	}
	if n.state.Status != raftstate.Leader {
		return
	}

	if m.Success {
		if m.MatchIndex > n.state.MatchIndex[m.Sender] {
			n.state.MatchIndex[m.Sender] = m.MatchIndex
		}
		n.state.NextIndex[m.Sender] = n.state.MatchIndex[m.Sender] + 1
	} else {
		next := n.state.NextIndex[m.Sender] - 1
		if next < 0 {
			next = 0
		}
		n.state.NextIndex[m.Sender] = next
	}

	if n.state.MatchIndex[m.Sender] != int64(n.state.Log.Len())-1 {
		req, err := n.buildAppendEntriesRequest(m.Sender, false)
		if err != nil {
			n.logger.Error("building catch-up append_entries_request failed", zap.Error(err))
		} else {
			n.net.Send(ToNode(m.Sender), req)
		}
	}

	i := n.state.MatchIndex[m.Sender]
	if i > raftstate.NoEntry && n.hasConsensus(i) && n.entryTermAt(i) == int32(n.state.CurrentTerm()) && n.state.CommitIndex < i {
		n.state.CommitIndex = i
	}

	n.runApplyLoop()
}

func (n *Node) entryTermAt(i int64) int32 {
	e, err := n.state.Log.Entry(int(i))
	if err != nil {
		return -1
	}
	return int32(e.Term)
}

// hasConsensus implements §4.F's median rule: a majority of match_index
// values (including the leader's own, at len(log)-1) are at or beyond i.
func (n *Node) hasConsensus(i int64) bool {
	values := make([]int64, 0, len(n.state.MatchIndex))
	for _, v := range n.state.MatchIndex {
		values = append(values, v)
	}
	sort.Slice(values, func(a, b int) bool { return values[a] < values[b] })
	median := values[(len(values)-1)/2]
	return median >= i
}

// handleVoteRequest grants a vote when the caller hasn't already voted
// this term for someone else and the candidate's log is at least as
// up-to-date (§4.F, bracketed per the corrected grant condition).
func (n *Node) handleVoteRequest(m raftmsg.VoteRequest) {
	n.resetElectionTimer()

	if m.Term < n.state.CurrentTerm() {
		n.net.Send(ToNode(m.Candidate), raftmsg.VoteResponse{Sender: n.ID, Term: n.state.CurrentTerm(), VoteGranted: false})
		return
	}
	if m.Term > n.state.CurrentTerm() && n.state.Status != raftstate.Follower {
		if err := n.state.SetCurrentTerm(m.Term); err != nil {
			n.logger.Fatal("persisting current_term failed", zap.Error(err))
			return
		}
		n.demote()
	}

	myLastIdx, myLastTerm, err := n.state.LastLogIndexAndTerm()
	if err != nil {
		n.logger.Fatal("reading last log index/term failed", zap.Error(err))
		return
	}

	votedFor, hasVoted := n.state.VotedFor()
	upToDate := m.LastLogTerm > myLastTerm || (m.LastLogTerm == myLastTerm && m.LastLogIndex >= myLastIdx)
	votedForOK := !hasVoted || votedFor == m.Candidate
	granted := votedForOK && upToDate

	if granted {
		if err := n.state.SetVotedFor(m.Candidate); err != nil {
			n.logger.Fatal("persisting voted_for failed", zap.Error(err))
			return
		}
	}

	n.net.Send(ToNode(m.Candidate), raftmsg.VoteResponse{Sender: n.ID, Term: n.state.CurrentTerm(), VoteGranted: granted})
}

// handleVoteResponse tallies votes and promotes on majority (§4.F).
func (n *Node) handleVoteResponse(m raftmsg.VoteResponse) {
	if m.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(m.Term); err != nil {
			n.logger.Fatal("persisting current_term failed", zap.Error(err))
			return
		}
		n.demote()
	}
	if n.state.Status != raftstate.Candidate {
		return
	}
	if m.VoteGranted {
		n.state.Votes[m.Sender] = struct{}{}
	}
	if len(n.state.Votes) > (len(n.peers)+1)/2 {
		n.promote()
	}
}

// handleElectionRequest is self-addressed: it starts a new election
// (§4.F).
func (n *Node) handleElectionRequest(raftmsg.ElectionRequest) {
	n.becomeCandidate()
}
