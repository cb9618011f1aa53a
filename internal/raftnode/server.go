package raftnode

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/actor"
	"github.com/mrshabel/raftkv/internal/config"
	"github.com/mrshabel/raftkv/internal/kvstore"
	"github.com/mrshabel/raftkv/internal/raftstate"
)

// Server runs one or more Raft nodes from the same cluster config in one
// process (spec.md §6's `--config FILE NAME…`), sharing one actor runtime.
// Grounded on the teacher's Agent: a list of independent setup/teardown
// steps, with multierr combining whatever shutdown errors each step
// produces instead of returning only the first (agent.Shutdown's list of
// teardown funcs returns early on the first error; a multi-node process
// should report every node that failed to close cleanly).
type Server struct {
	system *actor.System
	logger *zap.Logger
	nodes  []*Node
}

// NewServer opens durable state for every name in names, wires each into
// a Node addressed per cfg.Cluster, and spawns it on a shared actor
// runtime. All nodes are returned already listening.
func NewServer(cfg *config.Config, names []string, logger *zap.Logger) (*Server, error) {
	if err := RegisterMetricViews(); err != nil {
		return nil, fmt.Errorf("raftnode: register metric views: %w", err)
	}

	system := actor.NewSystem(logger)
	srv := &Server{system: system, logger: logger}

	heartbeat := time.Duration(cfg.HeartbeatInterval * float64(time.Second))

	for _, name := range names {
		if _, ok := cfg.Cluster[name]; !ok {
			srv.Shutdown()
			return nil, fmt.Errorf("raftnode: %q is not in the cluster config", name)
		}

		st, err := raftstate.Open(cfg.StorageDir, name, cfg.PageSize)
		if err != nil {
			srv.Shutdown()
			return nil, err
		}

		net := NewNetwork(name, cfg.Cluster, system, logger.Named(name))
		node := New(Config{
			ID:                name,
			Peers:             cfg.Peers(name),
			State:             st,
			Net:               net,
			StateMachine:      kvstore.New(),
			HeartbeatInterval: heartbeat,
			Logger:            logger.Named(name),
		})

		if err := system.Spawn(net.SelfAddr(), node); err != nil {
			st.Close()
			srv.Shutdown()
			return nil, err
		}
		srv.nodes = append(srv.nodes, node)
	}

	return srv, nil
}

// Shutdown closes every node's durable state and stops the actor runtime,
// aggregating whichever individual closes fail.
func (s *Server) Shutdown() error {
	var err error
	for _, n := range s.nodes {
		err = multierr.Append(err, n.Close())
	}
	s.system.Shutdown()
	return err
}
