package config

import "go.uber.org/zap"

// NewLogger builds a development logger named after nodeID, the way the
// teacher's agent.setupLogger installs one global logger per process —
// here scoped per node instead, since a single binary may run several
// nodes in server mode (spec.md §6's `--config FILE NAME…`).
func NewLogger(nodeID string) (*zap.Logger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return base.Named(nodeID), nil
}
