package raftmsg

import (
	"encoding/json"
	"fmt"

	"github.com/mrshabel/raftkv/internal/raftlog"
)

// MalformedMessage is returned when a frame cannot be decoded into a known
// message variant: bad JSON, or an unrecognized/missing msg_type. Per §7
// it is dropped silently by the caller (logged at debug level), never
// fatal.
type MalformedMessage struct {
	Err error
}

func (e MalformedMessage) Error() string { return fmt.Sprintf("raftmsg: malformed message: %v", e.Err) }
func (e MalformedMessage) Unwrap() error { return e.Err }

type envelope struct {
	MsgType string `json:"msg_type"`
}

// Encode marshals m to its wire JSON form, injecting the msg_type
// discriminator.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("raftmsg: encode %s: %w", m.MsgType(), err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("raftmsg: encode %s: %w", m.MsgType(), err)
	}
	tagged, err := json.Marshal(m.MsgType())
	if err != nil {
		return nil, err
	}
	obj["msg_type"] = tagged
	return json.Marshal(obj)
}

// Decode reads the msg_type discriminator out of data and unmarshals into
// the matching concrete variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, MalformedMessage{Err: err}
	}

	var msg Message
	switch env.MsgType {
	case TypeClientRequest:
		var m ClientRequest
		msg = &m
	case TypeClientResponse:
		var m ClientResponse
		msg = &m
	case TypeAppendEntriesRequest:
		var m AppendEntriesRequest
		msg = &m
	case TypeAppendEntriesResponse:
		var m AppendEntriesResponse
		msg = &m
	case TypeVoteRequest:
		var m VoteRequest
		msg = &m
	case TypeVoteResponse:
		var m VoteResponse
		msg = &m
	case TypeHeartbeatRequest:
		var m HeartbeatRequest
		msg = &m
	case TypeElectionRequest:
		var m ElectionRequest
		msg = &m
	default:
		return nil, MalformedMessage{Err: fmt.Errorf("unknown msg_type %q", env.MsgType)}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, MalformedMessage{Err: err}
	}

	// dereference back to a value type, matching the non-pointer variants
	// message construction elsewhere expects.
	switch v := msg.(type) {
	case *ClientRequest:
		return *v, nil
	case *ClientResponse:
		return *v, nil
	case *AppendEntriesRequest:
		return *v, nil
	case *AppendEntriesResponse:
		return *v, nil
	case *VoteRequest:
		return *v, nil
	case *VoteResponse:
		return *v, nil
	case *HeartbeatRequest:
		return *v, nil
	case *ElectionRequest:
		return *v, nil
	default:
		return nil, MalformedMessage{Err: fmt.Errorf("unreachable msg_type %q", env.MsgType)}
	}
}

// EntriesToWire converts log entries to their wire [term, item] form.
func EntriesToWire(entries []raftlog.LogEntry) []WireEntry {
	out := make([]WireEntry, len(entries))
	for i, e := range entries {
		out[i] = WireEntry{Term: e.Term, Item: e.Item}
	}
	return out
}

// EntriesFromWire converts wire entries back into LogEntry values.
func EntriesFromWire(entries []WireEntry) []raftlog.LogEntry {
	out := make([]raftlog.LogEntry, len(entries))
	for i, e := range entries {
		out[i] = raftlog.LogEntry{Term: e.Term, Item: e.Item}
	}
	return out
}
