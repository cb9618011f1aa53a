package raftnode_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrshabel/raftkv/internal/actor"
	"github.com/mrshabel/raftkv/internal/raftlog"
	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/raftstate"
)

// S3 — leader election: three nodes, all followers, no leader. Firing the
// election timer's message on n0 should make it a candidate and queue a
// VoteRequest for each peer; once both reply granted, n0 becomes leader
// and a HeartbeatRequest lands in its own mailbox.
func TestLeaderElection(t *testing.T) {
	nodes, sender := buildTestCluster(t, 3)
	n0 := nodes[0]

	n0.node.HandleMessage(raftmsg.ElectionRequest{})

	require.Equal(t, raftstate.Candidate, n0.state.Status)
	require.Equal(t, uint32(1), n0.state.CurrentTerm())

	pendingN1 := sender.pending("n1")
	pendingN2 := sender.pending("n2")
	require.Len(t, pendingN1, 1)
	require.Len(t, pendingN2, 1)
	require.IsType(t, raftmsg.VoteRequest{}, pendingN1[0])
	require.IsType(t, raftmsg.VoteRequest{}, pendingN2[0])

	sender.Flush() // deliver VoteRequests to n1/n2, which reply granted

	require.Equal(t, raftstate.Leader, n0.state.Status)
	history := sender.history("n0")
	var sawHeartbeat bool
	for _, m := range history {
		if _, ok := m.(raftmsg.HeartbeatRequest); ok {
			sawHeartbeat = true
		}
	}
	require.True(t, sawHeartbeat, "promotion should self-send a HeartbeatRequest")
}

// S4 — not-leader redirection: a ClientRequest sent to a follower gets a
// NotLeader ClientResponse and the log does not grow.
func TestClientRequestRedirectsWhenNotLeader(t *testing.T) {
	nodes, sender := buildTestCluster(t, 3)
	follower := nodes[1]

	clientAddr := actor.Addr{Host: "10.0.0.5", Port: 4000}
	follower.node.HandleMessage(raftmsg.ClientRequest{
		Sender:  raftmsg.Addr{Host: clientAddr.Host, Port: clientAddr.Port},
		Command: []any{"SET", "b", "k", "v"},
	})

	require.Equal(t, 0, follower.state.Log.Len())

	replies := sender.history(clientAddr.String())
	require.Len(t, replies, 1)
	resp, ok := replies[0].(raftmsg.ClientResponse)
	require.True(t, ok)
	result, ok := resp.Result.(string)
	require.True(t, ok)
	require.Contains(t, result, "NotLeader")
}

// electCluster fires the election timer's message on nodes[0] and flushes
// the resulting vote exchange, leaving it LEADER.
func electCluster(t *testing.T, nodes []*testNode, sender *fakeSender) *testNode {
	t.Helper()
	leader := nodes[0]
	leader.node.HandleMessage(raftmsg.ElectionRequest{})
	sender.Flush()
	require.Equal(t, raftstate.Leader, leader.state.Status)
	return leader
}

// replicateOnce simulates one heartbeat tick on leader and flushes the
// resulting AppendEntries round-trip to quiescence, the point at which any
// newly committed entry has been applied and any waiting client answered.
func replicateOnce(leader *testNode, sender *fakeSender) {
	leader.node.HandleMessage(raftmsg.HeartbeatRequest{Empty: false})
	sender.Flush()
}

// S5 — KV state machine apply: on a 3-node cluster, SET then GET
// replicated and committed round-trips the value, and unknown/bad
// commands surface their sentinel results to the client.
func TestClientRequestAppliesThroughKVStore(t *testing.T) {
	nodes, sender := buildTestCluster(t, 3)
	leader := electCluster(t, nodes, sender)

	client := actor.Addr{Host: "10.0.0.5", Port: 4000}
	send := func(cmd []any) any {
		leader.node.HandleMessage(raftmsg.ClientRequest{
			Sender:  raftmsg.Addr{Host: client.Host, Port: client.Port},
			Command: cmd,
		})
		replicateOnce(leader, sender)
		replies := sender.history(client.String())
		resp := replies[len(replies)-1].(raftmsg.ClientResponse)
		return resp.Result
	}

	require.Equal(t, "OK", send([]any{"SET", "b", "k", "v"}))
	require.Equal(t, "v", send([]any{"GET", "b", "k"}))
	require.Equal(t, "NO_KEY", send([]any{"DEL", "b", "missing"}))
	require.Equal(t, "NO_CMD", send([]any{"FAKE", "b", "k"}))
	require.Equal(t, "BAD_ARGS", send([]any{"SET", "b", "k"}))
}

// S1 — basic replication: on 5 nodes that all start empty, eight client
// commands each followed by a heartbeat round, plus two more rounds, leave
// every node with the same 8-entry log, committed and applied through 7.
func TestBasicReplicationConverges(t *testing.T) {
	nodes, sender := buildTestCluster(t, 5)
	leader := electCluster(t, nodes, sender)

	client := actor.Addr{Host: "10.0.0.9", Port: 4000}
	for i := 0; i < 8; i++ {
		leader.node.HandleMessage(raftmsg.ClientRequest{
			Sender:  raftmsg.Addr{Host: client.Host, Port: client.Port},
			Command: []any{"SET", "b", fmt.Sprintf("k%d", i), i},
		})
		replicateOnce(leader, sender)
	}
	// a couple more empty rounds let commit_index/leader_commit fully
	// propagate and every follower's apply loop catch up.
	replicateOnce(leader, sender)
	replicateOnce(leader, sender)

	for _, n := range nodes {
		require.Equal(t, 8, n.state.Log.Len(), "node %s log length", n.id)
		require.Equal(t, int64(7), n.state.CommitIndex, "node %s commit_index", n.id)
		require.Equal(t, int64(7), n.state.LastApplied, "node %s last_applied", n.id)
	}
}

// S2 — Figure 8 indirect commit on 7 nodes. A leader at term 8 already
// holds a log of mixed older terms with commit_index stuck at 4. One
// heartbeat brings every follower's log and term in line, but commit_index
// cannot move because no entry from the leader's own term has replicated
// yet. Only once the leader accepts a new command (a term-8 entry at
// index 10) and it replicates to a majority does commit_index jump to 10,
// per the paper's rule that a leader only counts its own term's entries
// toward commit (older entries become committed indirectly via Log
// Matching).
func TestFigure8IndirectCommit(t *testing.T) {
	nodes, sender := buildTestCluster(t, 7)
	leader := nodes[0]

	termsBeforeLeaderTerm := []uint32{1, 1, 1, 4, 4, 5, 5, 6, 6, 6}
	for i, term := range termsBeforeLeaderTerm {
		require.NoError(t, leader.state.Log.Append(raftlog.LogEntry{Term: term, Item: fmt.Sprintf("pre-%d", i)}))
	}
	require.NoError(t, leader.state.SetCurrentTerm(8))
	leader.state.CommitIndex = 4

	allIDs := make([]string, len(nodes))
	for i, n := range nodes {
		allIDs[i] = n.id
	}
	leader.state.BecomeLeader(allIDs)
	leader.state.MatchIndex[leader.id] = 9

	replicateOnce(leader, sender)

	for _, n := range nodes {
		require.Equal(t, 10, n.state.Log.Len(), "node %s log length after convergence", n.id)
		require.EqualValues(t, 4, n.state.CommitIndex, "node %s commit_index should not yet advance", n.id)
	}

	client := actor.Addr{Host: "10.0.0.7", Port: 4000}
	leader.node.HandleMessage(raftmsg.ClientRequest{
		Sender:  raftmsg.Addr{Host: client.Host, Port: client.Port},
		Command: []any{"SET", "b", "k", "v"},
	})

	replicateOnce(leader, sender)
	replicateOnce(leader, sender)

	for _, n := range nodes {
		require.Equal(t, 11, n.state.Log.Len(), "node %s log length after new term-8 entry", n.id)
		last, err := n.state.Log.Entry(10)
		require.NoError(t, err)
		require.EqualValues(t, 8, last.Term, "node %s last entry term", n.id)
		require.EqualValues(t, 10, n.state.CommitIndex, "node %s commit_index", n.id)
		require.EqualValues(t, 10, n.state.LastApplied, "node %s last_applied", n.id)
	}
}
