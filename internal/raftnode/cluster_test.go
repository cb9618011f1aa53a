package raftnode_test

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/actor"
	"github.com/mrshabel/raftkv/internal/config"
	"github.com/mrshabel/raftkv/internal/kvstore"
	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/raftnode"
	"github.com/mrshabel/raftkv/internal/raftstate"
)

// fakeSender is a synchronous, in-process stand-in for raftnode.Network:
// sends are queued rather than delivered inline, and a test drives
// delivery explicitly via Flush, mirroring the original's SyncSystem test
// double (send enqueues, flush dispatches until every mailbox is empty).
type fakeSender struct {
	mu      sync.Mutex
	cluster map[string]actor.Addr
	nodes   map[string]*raftnode.Node
	queue   map[string][]raftmsg.Message
	sent    map[string][]raftmsg.Message
}

func newFakeSender(cluster map[string]actor.Addr) *fakeSender {
	return &fakeSender{
		cluster: cluster,
		nodes:   make(map[string]*raftnode.Node),
		queue:   make(map[string][]raftmsg.Message),
		sent:    make(map[string][]raftmsg.Message),
	}
}

func (f *fakeSender) register(id string, n *raftnode.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[id] = n
}

func (f *fakeSender) ResolveNode(id string) (actor.Addr, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.cluster[id]
	return a, ok
}

func (f *fakeSender) Send(target raftnode.Target, msg raftmsg.Message) {
	key := target.Key()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[key] = append(f.queue[key], msg)
	f.sent[key] = append(f.sent[key], msg)
}

// Flush dispatches every queued message to its destination node,
// including messages newly queued as a side effect of handling an
// earlier one, until every mailbox is empty.
func (f *fakeSender) Flush() {
	for {
		f.mu.Lock()
		var key string
		var msg raftmsg.Message
		found := false
		for k, q := range f.queue {
			if len(q) > 0 {
				key, msg = k, q[0]
				f.queue[k] = q[1:]
				found = true
				break
			}
		}
		var node *raftnode.Node
		if found {
			node = f.nodes[key]
		}
		f.mu.Unlock()

		if !found {
			return
		}
		if node != nil {
			node.HandleMessage(msg)
		}
	}
}

// pending returns the messages currently queued (not yet flushed) for key,
// which is a node id for node targets or an address string for client
// targets.
func (f *fakeSender) pending(key string) []raftmsg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]raftmsg.Message, len(f.queue[key]))
	copy(out, f.queue[key])
	return out
}

// history returns every message ever sent to key, flushed or not.
func (f *fakeSender) history(key string) []raftmsg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]raftmsg.Message, len(f.sent[key]))
	copy(out, f.sent[key])
	return out
}

type testNode struct {
	id    string
	node  *raftnode.Node
	state *raftstate.State
	sm    *kvstore.Store
}

// buildTestCluster constructs n nodes sharing one fakeSender, each with
// its own temp storage directory and durable state, wired the way
// cmd/raftkv wires a real cluster minus the actor/transport layer.
func buildTestCluster(t *testing.T, n int) ([]*testNode, *fakeSender) {
	t.Helper()
	dir, err := os.MkdirTemp("", "raftnode-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	ids := make([]string, n)
	cluster := make(map[string]actor.Addr, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("n%d", i)
		cluster[ids[i]] = actor.Addr{Host: "127.0.0.1", Port: 9000 + i}
	}

	sender := newFakeSender(cluster)
	logger := zap.NewNop()

	nodes := make([]*testNode, n)
	for i, id := range ids {
		st, err := raftstate.Open(dir, id, config.DefaultPageSize)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })

		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}

		sm := kvstore.New()
		rn := raftnode.New(raftnode.Config{
			ID:                id,
			Peers:             peers,
			State:             st,
			Net:               sender,
			StateMachine:      sm,
			HeartbeatInterval: 50 * time.Millisecond,
			Logger:            logger,
		})
		sender.register(id, rn)
		nodes[i] = &testNode{id: id, node: rn, state: st, sm: sm}
	}
	return nodes, sender
}
