// Package node implements the coordinator and data-party processes: session
// and connection management, the count-round and split-decision message
// flows, and the run state machine.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/privml/c50d/registry"
	"github.com/privml/c50d/transport"
	"github.com/privml/c50d/types"
	"golang.org/x/xerrors"
)

const (
	// ReadTimeout paces the per-connection receive loops so they observe
	// shutdown promptly.
	ReadTimeout = time.Millisecond * 100
	// WriteTimeout bounds a single packet send.
	WriteTimeout = time.Second * 5
	// RoundTimeout bounds one full ring pass or acknowledged broadcast.
	RoundTimeout = time.Second * 30
)

// ErrProtocolSequence reports a message received out of the expected round
// or state. It aborts the affected tree node's computation, not the process.
var ErrProtocolSequence = xerrors.New("protocol sequence violation")

// State is the lifecycle state of a node process.
type State int32

// Node lifecycle states.
const (
	Created State = iota
	Listening
	Connecting
	ConnectedToAllParties
	RoundActive
	TreeComplete
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Listening:
		return "listening"
	case Connecting:
		return "connecting"
	case ConnectedToAllParties:
		return "connected"
	case RoundActive:
		return "round-active"
	case TreeComplete:
		return "tree-complete"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type nodeState struct {
	sync.RWMutex
	current State
}

func (s *nodeState) get() State {
	s.RLock()
	defer s.RUnlock()
	return s.current
}

func (s *nodeState) set(next State) {
	s.Lock()
	defer s.Unlock()
	s.current = next
}

// require returns a ProtocolSequenceError unless the current state is one of
// the allowed ones.
func (s *nodeState) require(allowed ...State) error {
	current := s.get()
	for _, a := range allowed {
		if current == a {
			return nil
		}
	}
	return xerrors.Errorf("%w: node is %s", ErrProtocolSequence, current)
}

// PeerConn wraps one live connection. Sends are serialized so two in-flight
// rounds never interleave bytes on the same connection.
type PeerConn struct {
	ID   string
	conn transport.Conn

	sendMu sync.Mutex
}

func (p *PeerConn) send(pkt transport.Packet) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.conn.Send(pkt, WriteTimeout)
}

func (p *PeerConn) close() {
	p.conn.Close()
}

// ConnTable is the connection registry of a node: peer ID to live
// connection, safe under concurrent accept and disconnect.
type ConnTable struct {
	sync.RWMutex
	table map[string]*PeerConn
}

// NewConnTable returns an empty connection registry.
func NewConnTable() *ConnTable {
	return &ConnTable{table: map[string]*PeerConn{}}
}

func (t *ConnTable) add(peer *PeerConn) {
	t.Lock()
	defer t.Unlock()
	t.table[peer.ID] = peer
}

func (t *ConnTable) get(id string) (*PeerConn, bool) {
	t.RLock()
	defer t.RUnlock()
	peer, ok := t.table[id]
	return peer, ok
}

func (t *ConnTable) remove(id string) {
	t.Lock()
	defer t.Unlock()
	delete(t.table, id)
}

func (t *ConnTable) ids() []string {
	t.RLock()
	defer t.RUnlock()
	ids := make([]string, 0, len(t.table))
	for id := range t.table {
		ids = append(ids, id)
	}
	return ids
}

func (t *ConnTable) closeAll() {
	t.Lock()
	defer t.Unlock()
	for id, peer := range t.table {
		peer.close()
		delete(t.table, id)
	}
}

// pendingTable routes replies back to waiting operations: a count round
// waits keyed by its round ID, an acknowledged send by its packet ID.
type pendingTable struct {
	sync.Mutex
	table map[string]chan types.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{table: map[string]chan types.Message{}}
}

func (t *pendingTable) expect(key string) chan types.Message {
	ch := make(chan types.Message, 1)
	t.Lock()
	defer t.Unlock()
	t.table[key] = ch
	return ch
}

func (t *pendingTable) deliver(key string, msg types.Message) bool {
	t.Lock()
	ch, ok := t.table[key]
	if ok {
		delete(t.table, key)
	}
	t.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (t *pendingTable) cancel(key string) {
	t.Lock()
	defer t.Unlock()
	delete(t.table, key)
}

// baseNode carries what coordinator and data party have in common: identity,
// listening socket, connection registry, message registry and the running
// flag.
type baseNode struct {
	id    string
	sock  transport.ClosableSocket
	conns *ConnTable
	reg   *registry.Registry
	state *nodeState

	ctx    context.Context
	cancel context.CancelFunc
}

func newBaseNode(id string) baseNode {
	ctx, cancel := context.WithCancel(context.Background())
	return baseNode{
		id:     id,
		conns:  NewConnTable(),
		reg:    registry.NewRegistry(),
		state:  &nodeState{current: Created},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (n *baseNode) running() bool {
	return n.ctx.Err() == nil
}

// serveConn pumps packets off one connection into the registry until the
// node stops or the connection breaks.
func (n *baseNode) serveConn(peer *PeerConn) {
	for n.running() {
		pkt, err := peer.conn.Recv(ReadTimeout)
		if errors.Is(err, transport.TimeoutError(0)) {
			continue
		}
		if err != nil {
			if n.running() {
				log.Warn().Msgf("%s: connection to %s broken: %v", n.id, peer.ID, err)
				n.conns.remove(peer.ID)
			}
			return
		}

		if pkt.Header.Destination != n.id {
			log.Error().Msgf("%s: packet %s not addressed to this node", n.id, pkt.Header)
			continue
		}
		err = n.reg.ProcessPacket(pkt)
		if err != nil {
			log.Warn().Msgf("%s: failed to process %s packet: %v", n.id, pkt.Msg.Type, err)
		}
	}
}

// send marshals and sends a message over the connection registered for the
// destination.
func (n *baseNode) send(dest string, msg types.Message) (transport.Packet, error) {
	peer, ok := n.conns.get(dest)
	if !ok {
		return transport.Packet{}, xerrors.Errorf("no connection to %s", dest)
	}

	m, err := n.reg.MarshalMessage(msg)
	if err != nil {
		return transport.Packet{}, err
	}

	header := transport.NewHeader(n.id, dest)
	pkt := transport.Packet{Header: &header, Msg: &m}
	err = peer.send(pkt)
	if err != nil {
		return transport.Packet{}, xerrors.Errorf("send to %s: %w", dest, err)
	}
	return pkt, nil
}
