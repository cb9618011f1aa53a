package raftnode

import (
	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/actor"
	"github.com/mrshabel/raftkv/internal/config"
	"github.com/mrshabel/raftkv/internal/raftmsg"
)

// Target names a message's destination: either a known node id, resolved
// through the cluster map, or a raw address, as when replying to a
// client (§4.G).
type Target struct {
	nodeID string
	addr   actor.Addr
	isAddr bool
}

// ToNode targets a cluster member by id.
func ToNode(id string) Target { return Target{nodeID: id} }

// ToAddr targets a raw (host, port), used for client responses.
func ToAddr(a actor.Addr) Target { return Target{addr: a, isAddr: true} }

// Key returns a string uniquely identifying the target, for tests and
// logging that need to key a map by destination.
func (t Target) Key() string {
	if t.isAddr {
		return t.addr.String()
	}
	return t.nodeID
}

// Network resolves Targets against the cluster map and forwards to the
// actor runtime (§4.G). Transport failures are logged and swallowed by
// actor.System.Send; Raft correctness never depends on one send
// succeeding.
type Network struct {
	self    string
	cluster map[string]actor.Addr
	system  *actor.System
	logger  *zap.Logger
}

// NewNetwork builds a facade over cluster, addressed as self.
func NewNetwork(self string, cluster map[string]config.NodeAddr, system *actor.System, logger *zap.Logger) *Network {
	resolved := make(map[string]actor.Addr, len(cluster))
	for id, a := range cluster {
		resolved[id] = actor.Addr{Host: a.Host, Port: a.Port}
	}
	return &Network{self: self, cluster: resolved, system: system, logger: logger}
}

// SelfAddr returns the address this node listens on.
func (n *Network) SelfAddr() actor.Addr { return n.cluster[n.self] }

// ResolveNode looks up a node id's address, for callers (client
// redirection) that need to describe a peer without sending to it.
func (n *Network) ResolveNode(id string) (actor.Addr, bool) {
	addr, ok := n.cluster[id]
	return addr, ok
}

// Send resolves target and forwards msg, logging and dropping if target
// names an unknown node id.
func (n *Network) Send(target Target, msg raftmsg.Message) {
	addr := target.addr
	if !target.isAddr {
		resolved, ok := n.cluster[target.nodeID]
		if !ok {
			n.logger.Debug("send to unknown node", zap.String("node_id", target.nodeID))
			return
		}
		addr = resolved
	}
	n.system.Send(addr, msg)
}
