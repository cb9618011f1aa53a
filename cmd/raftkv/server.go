package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/config"
	"github.com/mrshabel/raftkv/internal/raftnode"
)

// runServer loads cfgPath and starts one node per entry in names, all
// sharing one process and one actor runtime, until interrupted.
func runServer(cfgPath string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("raftkv: --config requires at least one node name")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger("raftkv")
	if err != nil {
		return fmt.Errorf("raftkv: build logger: %w", err)
	}
	defer logger.Sync()

	srv, err := raftnode.NewServer(cfg, names, logger)
	if err != nil {
		return err
	}

	logger.Info("raftkv server started", zap.Strings("nodes", names))
	awaitSignal()
	logger.Info("shutting down")

	return srv.Shutdown()
}
