// Package raftmsg defines the tagged message variants exchanged between
// Raft nodes and clients over the wire (§4.E, §6): every message is a
// single JSON object carrying a msg_type discriminator.
package raftmsg

import (
	"encoding/json"
	"fmt"
)

// Addr is a (host, port) pair, encoded on the wire as a 2-element JSON
// array per §6's client_request.sender shape.
type Addr struct {
	Host string
	Port int
}

func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.Host, a.Port})
}

func (a *Addr) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("raftmsg: decode addr: %w", err)
	}
	if err := json.Unmarshal(pair[0], &a.Host); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Port)
}

func (a Addr) String() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// WireEntry is a LogEntry as it appears on the wire: a [term, item] pair
// rather than an object, matching the original's plain list encoding.
type WireEntry struct {
	Term uint32
	Item any
}

func (w WireEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{w.Term, w.Item})
}

func (w *WireEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("raftmsg: decode entry: %w", err)
	}
	if err := json.Unmarshal(pair[0], &w.Term); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &w.Item)
}

// Message is implemented by every variant below; MsgType returns the wire
// discriminator so a single exhaustive switch in the node's dispatcher
// (§9 design notes) can route an inbound frame to its handler.
type Message interface {
	MsgType() string
}

const (
	TypeClientRequest          = "client_request"
	TypeClientResponse         = "client_response"
	TypeAppendEntriesRequest   = "append_entries_request"
	TypeAppendEntriesResponse  = "append_entries_response"
	TypeVoteRequest            = "vote_request"
	TypeVoteResponse           = "vote_response"
	TypeHeartbeatRequest       = "heartbeat_request"
	TypeElectionRequest        = "election_request"
)

// ClientRequest is sent by an external client to any node, asking it to
// run command.
type ClientRequest struct {
	Sender  Addr `json:"sender"`
	Command any  `json:"command"`
}

func (ClientRequest) MsgType() string { return TypeClientRequest }

// ClientResponse is the leader's eventual reply to a ClientRequest.
type ClientResponse struct {
	Result any `json:"result"`
}

func (ClientResponse) MsgType() string { return TypeClientResponse }

// AppendEntriesRequest replicates entries (possibly empty, for a
// heartbeat) from a leader to a follower.
type AppendEntriesRequest struct {
	Sender      string      `json:"sender"`
	Term        uint32      `json:"term"`
	PrevIndex   int64       `json:"prev_index"`
	PrevTerm    int32       `json:"prev_term"`
	Entries     []WireEntry `json:"entries"`
	CommitIndex int64       `json:"commit_index"`
}

func (AppendEntriesRequest) MsgType() string { return TypeAppendEntriesRequest }

// AppendEntriesResponse is a follower's reply to AppendEntriesRequest.
type AppendEntriesResponse struct {
	Sender     string `json:"sender"`
	Term       uint32 `json:"term"`
	Success    bool   `json:"success"`
	MatchIndex int64  `json:"match_index"`
}

func (AppendEntriesResponse) MsgType() string { return TypeAppendEntriesResponse }

// VoteRequest is sent by a candidate soliciting a vote.
type VoteRequest struct {
	Term         uint32 `json:"term"`
	Candidate    string `json:"candidate"`
	LastLogIndex int64  `json:"last_log_index"`
	LastLogTerm  int32  `json:"last_log_term"`
}

func (VoteRequest) MsgType() string { return TypeVoteRequest }

// VoteResponse is a peer's reply to a VoteRequest.
type VoteResponse struct {
	Sender      string `json:"sender"`
	Term        uint32 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

func (VoteResponse) MsgType() string { return TypeVoteResponse }

// HeartbeatRequest is self-addressed: it fires on the leader's heartbeat
// timer and triggers a round of AppendEntriesRequests to every peer.
type HeartbeatRequest struct {
	Empty bool `json:"empty"`
}

func (HeartbeatRequest) MsgType() string { return TypeHeartbeatRequest }

// ElectionRequest is self-addressed: it fires on the election timer and
// starts a new election.
type ElectionRequest struct{}

func (ElectionRequest) MsgType() string { return TypeElectionRequest }
