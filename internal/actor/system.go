// Package actor provides the minimal actor/mailbox runtime described in
// §4.H and §5: each actor is a TCP listener plus a single-consumer
// mailbox, guaranteeing that one message is handled at a time per actor,
// in arrival order, while multiple actors progress concurrently.
package actor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/raftkv/internal/raftmsg"
	"github.com/mrshabel/raftkv/internal/transport"
)

// Addr is a (host, port) network address, used both to key actors within
// a System and to address remote peers.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string { return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port)) }

// Handler is implemented by anything that can be driven by a System: one
// method, dispatched exhaustively by the implementation's own type switch
// over raftmsg.Message (§9 design notes), in place of dynamic
// handler-by-name dispatch.
type Handler interface {
	HandleMessage(msg raftmsg.Message)
}

// mailboxCapacity bounds how many undelivered messages an actor will
// buffer before a sender blocks; generous enough that a heartbeat burst
// across a small cluster never stalls the network goroutine.
const mailboxCapacity = 4096

// dialTimeout bounds how long a send waits to establish a connection to a
// peer before giving up (§4.G: transport failures are logged and
// swallowed, Raft relies on retries driven by heartbeats).
const dialTimeout = 2 * time.Second

type actorEntry struct {
	handler  Handler
	mailbox  chan raftmsg.Message
	listener net.Listener
	done     chan struct{}
}

// System is a TCP-backed actor runtime: Spawn starts a listener and a
// single dispatch goroutine per actor; Send frames and delivers a message
// to a local or remote actor.
type System struct {
	logger *zap.Logger

	mu     sync.Mutex
	actors map[string]*actorEntry
	wg     sync.WaitGroup
}

// NewSystem creates an empty runtime. Actors are added with Spawn.
func NewSystem(logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &System{
		logger: logger,
		actors: make(map[string]*actorEntry),
	}
}

// Spawn starts listening on addr and begins dispatching inbound messages
// to handler one at a time, in arrival order.
func (s *System) Spawn(addr Addr, handler Handler) error {
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return fmt.Errorf("actor: listen on %s: %w", addr, err)
	}

	entry := &actorEntry{
		handler:  handler,
		mailbox:  make(chan raftmsg.Message, mailboxCapacity),
		listener: ln,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.actors[addr.String()] = entry
	s.mu.Unlock()

	s.wg.Add(2)
	go s.acceptLoop(addr.String(), entry)
	go s.dispatchLoop(entry)
	return nil
}

// acceptLoop accepts one connection per inbound frame, matching the
// original's one-message-per-connection transport. Frames are read
// synchronously, in accept order, so arrival order into the mailbox
// matches the order peers established their connections — a slow reader
// would stall the next accept, but frames are small and this keeps the
// per-actor ordering guarantee simple to reason about.
func (s *System) acceptLoop(key string, entry *actorEntry) {
	defer s.wg.Done()
	for {
		conn, err := entry.listener.Accept()
		if err != nil {
			select {
			case <-entry.done:
				return
			default:
				s.logger.Debug("accept failed", zap.String("actor", key), zap.Error(err))
				return
			}
		}
		s.receiveOne(key, entry, conn)
	}
}

func (s *System) receiveOne(key string, entry *actorEntry, conn net.Conn) {
	defer conn.Close()
	payload, err := transport.ReadFrame(conn)
	if err != nil {
		s.logger.Debug("read frame failed", zap.String("actor", key), zap.Error(err))
		return
	}
	msg, err := raftmsg.Decode(payload)
	if err != nil {
		s.logger.Debug("malformed message dropped", zap.String("actor", key), zap.Error(err))
		return
	}
	select {
	case entry.mailbox <- msg:
	case <-entry.done:
	}
}

// dispatchLoop is the actor's single consumer: it guarantees messages are
// handled strictly one at a time, in the order they were enqueued.
func (s *System) dispatchLoop(entry *actorEntry) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-entry.mailbox:
			entry.handler.HandleMessage(msg)
		case <-entry.done:
			// drain without blocking so senders racing shutdown don't leak.
			for {
				select {
				case <-entry.mailbox:
				default:
					return
				}
			}
		}
	}
}

// Send frames and delivers msg to the actor listening at to. Failures are
// a TransportError: logged at debug level and swallowed, since Raft's
// correctness does not depend on any single send succeeding (§4.G).
func (s *System) Send(to Addr, msg raftmsg.Message) {
	payload, err := raftmsg.Encode(msg)
	if err != nil {
		s.logger.Debug("encode failed", zap.String("to", to.String()), zap.Error(err))
		return
	}

	conn, err := net.DialTimeout("tcp", to.String(), dialTimeout)
	if err != nil {
		s.logger.Debug("transport error", zap.String("to", to.String()), zap.Error(&TransportError{Op: "dial", Err: err}))
		return
	}
	defer conn.Close()

	if err := transport.WriteFrame(conn, payload); err != nil {
		s.logger.Debug("transport error", zap.String("to", to.String()), zap.Error(&TransportError{Op: "write", Err: err}))
		return
	}
}

// TransportError wraps a connect/send failure. Per §7 it is never fatal:
// it is logged and dropped, and recovery relies on retries driven by
// heartbeats.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Destroy stops one actor's listener and dispatch loop.
func (s *System) Destroy(addr Addr) {
	s.mu.Lock()
	entry, ok := s.actors[addr.String()]
	if ok {
		delete(s.actors, addr.String())
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	close(entry.done)
	entry.listener.Close()
}

// Shutdown stops every actor and waits for their goroutines to exit.
func (s *System) Shutdown() {
	s.mu.Lock()
	addrs := make([]string, 0, len(s.actors))
	for k := range s.actors {
		addrs = append(addrs, k)
	}
	s.mu.Unlock()

	for _, k := range addrs {
		s.mu.Lock()
		entry, ok := s.actors[k]
		if ok {
			delete(s.actors, k)
		}
		s.mu.Unlock()
		if ok {
			close(entry.done)
			entry.listener.Close()
		}
	}
	s.wg.Wait()
}
