package raftnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/actor"
	"github.com/mrshabel/raftkv/internal/config"
	"github.com/mrshabel/raftkv/internal/kvstore"
	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/raftstate"
)

type nopSender struct{}

func (nopSender) Send(Target, raftmsg.Message)          {}
func (nopSender) ResolveNode(string) (actor.Addr, bool) { return actor.Addr{}, false }

func newTestNode(t *testing.T, id string, peers []string) *Node {
	t.Helper()
	dir := t.TempDir()
	st, err := raftstate.Open(dir, id, config.DefaultPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := New(Config{
		ID:                id,
		Peers:             peers,
		State:             st,
		Net:               nopSender{},
		StateMachine:      kvstore.New(),
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	// tests drive role transitions explicitly; stop the timer New() armed
	// so a stray firing doesn't touch a sender the test has since replaced.
	n.electionTimer.Stop()
	return n
}

// mirrors the original's test_has_consensus: 3 nodes, median-of-match-index
// consensus rule (spec.md §8 property 10, §4.F has_consensus).
func TestNodeHasConsensus(t *testing.T) {
	n := newTestNode(t, "node-0", []string{"node-1", "node-2"})
	n.state.MatchIndex = map[string]int64{"node-0": -1, "node-1": -1, "node-2": -1}

	require.False(t, n.hasConsensus(0))

	n.state.MatchIndex["node-0"] = 0
	require.False(t, n.hasConsensus(0))

	n.state.MatchIndex["node-1"] = 0
	require.True(t, n.hasConsensus(0))

	n.state.MatchIndex["node-2"] = 0
	require.True(t, n.hasConsensus(0))
}

func TestNodeHasConsensusFiveNodeMedian(t *testing.T) {
	// spec.md §8 property 10: match_index = [1,3,2,3,3] -> has_consensus(i)
	// iff i <= 3.
	n := newTestNode(t, "n0", []string{"n1", "n2", "n3", "n4"})
	n.state.MatchIndex = map[string]int64{"n0": 1, "n1": 3, "n2": 2, "n3": 3, "n4": 3}

	require.True(t, n.hasConsensus(3))
	require.False(t, n.hasConsensus(4))
}

func TestNodePromote(t *testing.T) {
	n := newTestNode(t, "node-0", []string{"node-1", "node-2"})
	sender := &capturingSender{}
	n.net = sender

	n.promote()

	require.Equal(t, raftstate.Leader, n.state.Status)
	require.Len(t, sender.sentTo("node-0"), 1)
	require.IsType(t, raftmsg.HeartbeatRequest{}, sender.sentTo("node-0")[0])
}

func TestNodeDemote(t *testing.T) {
	n := newTestNode(t, "node-0", []string{"node-1", "node-2"})
	n.net = &capturingSender{}
	n.state.Status = raftstate.Leader

	n.demote()

	require.Equal(t, raftstate.Follower, n.state.Status)
	votedFor, ok := n.state.VotedFor()
	require.False(t, ok)
	require.Equal(t, "", votedFor)
}

func TestNodeHandleElectionRequest(t *testing.T) {
	n := newTestNode(t, "node-0", []string{"node-1", "node-2"})
	sender := &capturingSender{}
	n.net = sender
	beforeTerm := n.state.CurrentTerm()

	n.handleElectionRequest(raftmsg.ElectionRequest{})

	require.Equal(t, raftstate.Candidate, n.state.Status)
	require.Equal(t, beforeTerm+1, n.state.CurrentTerm())
	require.IsType(t, raftmsg.VoteRequest{}, sender.sentTo("node-1")[0])
	require.IsType(t, raftmsg.VoteRequest{}, sender.sentTo("node-2")[0])
}

type capturingSender struct {
	sent map[string][]raftmsg.Message
}

func (c *capturingSender) Send(target Target, msg raftmsg.Message) {
	if c.sent == nil {
		c.sent = make(map[string][]raftmsg.Message)
	}
	c.sent[target.Key()] = append(c.sent[target.Key()], msg)
}

func (c *capturingSender) ResolveNode(id string) (actor.Addr, bool) { return actor.Addr{}, false }

func (c *capturingSender) sentTo(key string) []raftmsg.Message { return c.sent[key] }
