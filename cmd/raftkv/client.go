package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/transport"
)

// clientTimeout matches spec.md §6's 5-second wall-clock receive timeout.
const clientTimeout = 5 * time.Second

// runClient sends a ClientRequest built from tokens to leaderAddr and
// waits for the reply, printing "Timeout waiting for response" if none
// arrives in time (a new leader doesn't inherit callbacks, so a client
// that raced a leadership change simply times out and would retry).
func runClient(leaderAddr string, tokens []string) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("raftkv: listen for reply: %w", err)
	}
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return "", err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", err
	}

	replies := make(chan raftmsg.Message, 1)
	go receiveOneReply(ln, replies)

	command := make([]any, len(tokens))
	for i, t := range tokens {
		command[i] = t
	}

	req := raftmsg.ClientRequest{
		Sender:  raftmsg.Addr{Host: host, Port: port},
		Command: command,
	}
	if err := sendRequest(leaderAddr, req); err != nil {
		return "", err
	}

	select {
	case msg := <-replies:
		resp, ok := msg.(raftmsg.ClientResponse)
		if !ok {
			return "", fmt.Errorf("raftkv: unexpected reply type %T", msg)
		}
		return fmt.Sprint(resp.Result), nil
	case <-time.After(clientTimeout):
		return "Timeout waiting for response", nil
	}
}

func receiveOneReply(ln net.Listener, replies chan<- raftmsg.Message) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	payload, err := transport.ReadFrame(conn)
	if err != nil {
		return
	}
	msg, err := raftmsg.Decode(payload)
	if err != nil {
		return
	}
	replies <- msg
}

func sendRequest(addr string, req raftmsg.ClientRequest) error {
	conn, err := net.DialTimeout("tcp", addr, clientTimeout)
	if err != nil {
		return fmt.Errorf("raftkv: connect to %s: %w", addr, err)
	}
	defer conn.Close()

	payload, err := raftmsg.Encode(req)
	if err != nil {
		return err
	}
	return transport.WriteFrame(conn, payload)
}
