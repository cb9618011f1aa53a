package raftnode

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/raftmsg"
)

// electionTimeoutMinFactor and electionTimeoutMaxFactor bound the
// randomized election timeout window, [30, 60) times the heartbeat
// interval (§4.F).
const (
	electionTimeoutMinFactor = 30
	electionTimeoutMaxFactor = 60
)

// resetElectionTimer restarts the election timer with a fresh randomized
// interval. Per §5, a cancelled timer may still deliver its message after
// this call races it; handlers tolerate a stray ElectionRequest.
func (n *Node) resetElectionTimer() {
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	timeout := n.randomElectionTimeout()
	nodeID := n.ID
	net := n.net
	n.electionTimer = time.AfterFunc(timeout, func() {
		net.Send(ToNode(nodeID), raftmsg.ElectionRequest{})
	})
}

func (n *Node) randomElectionTimeout() time.Duration {
	lo := int64(float64(electionTimeoutMinFactor) * n.heartbeatInterval.Seconds() * float64(time.Second))
	hi := int64(float64(electionTimeoutMaxFactor) * n.heartbeatInterval.Seconds() * float64(time.Second))
	span := hi - lo
	if span <= 0 {
		return time.Duration(lo)
	}
	var jitter int64
	if n.rng != nil {
		jitter = n.rng.Int63n(span)
	} else {
		jitter = rand.Int63n(span)
	}
	return time.Duration(lo + jitter)
}

// scheduleHeartbeat arms a one-shot timer that self-sends a
// HeartbeatRequest after heartbeat_interval, matching the leader-only
// heartbeat cadence of §4.F.
func (n *Node) scheduleHeartbeat() {
	if n.heartbeatTimer != nil {
		n.heartbeatTimer.Stop()
	}
	nodeID := n.ID
	net := n.net
	n.heartbeatTimer = time.AfterFunc(n.heartbeatInterval, func() {
		net.Send(ToNode(nodeID), raftmsg.HeartbeatRequest{Empty: false})
	})
}

func (n *Node) cancelHeartbeat() {
	if n.heartbeatTimer != nil {
		n.heartbeatTimer.Stop()
		n.heartbeatTimer = nil
	}
}

// promote transitions this node to LEADER: initializes replication
// bookkeeping, cancels the election timer, and self-sends an empty
// heartbeat to announce leadership immediately (§4.F role transitions).
func (n *Node) promote() {
	n.state.BecomeLeader(n.allNodes)
	n.leaderID = n.ID
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.logger.Info("became leader", zap.Uint32("term", n.state.CurrentTerm()))
	n.net.Send(ToNode(n.ID), raftmsg.HeartbeatRequest{Empty: true})
}

// demote transitions this node to FOLLOWER, clearing voted_for, cancelling
// any heartbeat timer, and restarting the election timer.
func (n *Node) demote() {
	if err := n.state.BecomeFollower(); err != nil {
		n.logger.Fatal("persisting follower transition failed", zap.Error(err))
		return
	}
	n.cancelHeartbeat()
	n.resetElectionTimer()
	n.logger.Info("became follower", zap.Uint32("term", n.state.CurrentTerm()))
}

// becomeCandidate starts a new election: bumps current_term, votes for
// self, and broadcasts VoteRequest to every peer (§4.F ElectionRequest
// handler).
func (n *Node) becomeCandidate() {
	if err := n.state.BecomeCandidate(n.ID); err != nil {
		n.logger.Fatal("persisting candidate transition failed", zap.Error(err))
		return
	}
	n.resetElectionTimer()
	n.logger.Info("became candidate", zap.Uint32("term", n.state.CurrentTerm()))

	lastIdx, lastTerm, err := n.state.LastLogIndexAndTerm()
	if err != nil {
		n.logger.Fatal("reading last log index/term failed", zap.Error(err))
		return
	}
	req := raftmsg.VoteRequest{
		Term:         n.state.CurrentTerm(),
		Candidate:    n.ID,
		LastLogIndex: lastIdx,
		LastLogTerm:  lastTerm,
	}
	for _, peer := range n.peers {
		n.net.Send(ToNode(peer), req)
	}

	// a lone node (no peers) wins its own election outright.
	if len(n.peers) == 0 {
		n.promote()
	}
}
