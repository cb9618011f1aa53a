package raftnode

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/raftstate"
)

// runApplyLoop advances last_applied up to commit_index, applying each
// newly-committed entry to the state machine in order and answering any
// waiting client (§4.F Apply loop). A StateMachineError is caught and its
// text becomes the result; committed entries are never skipped.
func (n *Node) runApplyLoop() {
	for n.state.CommitIndex > n.state.LastApplied {
		idx := n.state.LastApplied + 1
		entry, err := n.state.Log.Entry(int(idx))
		if err != nil {
			n.logger.Fatal("reading committed entry failed", zap.Int64("index", idx), zap.Error(err))
			return
		}

		result, applyErr := n.apply(entry.Item)
		n.state.LastApplied = idx

		if n.state.Status == raftstate.Leader {
			if addr, ok := n.clientCallbacks[idx]; ok {
				n.net.Send(ToAddr(addr), raftmsg.ClientResponse{Result: result})
				delete(n.clientCallbacks, idx)
			}
		}

		if applyErr != nil {
			n.logger.Warn("state machine apply returned an error", zap.Int64("index", idx), zap.Error(applyErr))
		}
	}
	n.recordProgress()
}

// apply invokes the state machine, converting a panic or error into its
// textual representation rather than letting it halt the node (§7
// StateMachineError).
func (n *Node) apply(item any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("state machine panicked: %v", r)
			result = err.Error()
		}
	}()

	res, applyErr := n.sm.Apply(item)
	if applyErr != nil {
		return applyErr.Error(), applyErr
	}
	return res, nil
}

// Close stops this node's timers and closes its durable state.
func (n *Node) Close() error {
	n.cancelHeartbeat()
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	return n.state.Close()
}
