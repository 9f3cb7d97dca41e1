package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/privml/c50d/transport"
	"golang.org/x/xerrors"
)

const connBuffer = 64

// NewTransport returns an in-memory transport implementation. All sockets
// created from the same Transport can reach each other; nothing leaves the
// process. Intended for tests and the single-process simulation mode.
func NewTransport() transport.Transport {
	return &Channel{
		sockets: map[string]*Socket{},
	}
}

// Channel implements an in-memory transport.
//
// - implements transport.Transport
type Channel struct {
	sync.Mutex
	sockets map[string]*Socket
	counter int
}

// CreateSocket implements transport.Transport
func (c *Channel) CreateSocket(address string) (transport.ClosableSocket, error) {
	c.Lock()
	defer c.Unlock()

	if address == "" || address == "127.0.0.1:0" || address == ":0" {
		c.counter++
		address = fmt.Sprintf("127.0.0.1:%d", c.counter)
	}
	if _, ok := c.sockets[address]; ok {
		return nil, transport.ConnectivityError{Op: "bind", Addr: address,
			Err: xerrors.New("address already in use")}
	}

	sock := &Socket{
		channel: c,
		myAddr:  address,
		inbound: make(chan transport.Conn, connBuffer),
		closed:  make(chan struct{}),
	}
	c.sockets[address] = sock
	return sock, nil
}

// Socket implements an in-memory listening endpoint.
//
// - implements transport.Socket
// - implements transport.ClosableSocket
type Socket struct {
	channel *Channel
	myAddr  string
	inbound chan transport.Conn
	closed  chan struct{}
	once    sync.Once
}

// Accept implements transport.Socket
func (s *Socket) Accept() (transport.Conn, error) {
	select {
	case conn := <-s.inbound:
		return conn, nil
	case <-s.closed:
		return nil, transport.ConnectivityError{Op: "accept", Addr: s.myAddr,
			Err: xerrors.New("socket closed")}
	}
}

// Dial implements transport.Socket
func (s *Socket) Dial(address string) (transport.Conn, error) {
	s.channel.Lock()
	remote, ok := s.channel.sockets[address]
	s.channel.Unlock()

	if !ok {
		return nil, transport.ConnectivityError{Op: "dial", Addr: address,
			Err: xerrors.New("no such endpoint")}
	}

	local, peer := newConnPair(s.myAddr, address)

	select {
	case remote.inbound <- peer:
		return local, nil
	case <-remote.closed:
		return nil, transport.ConnectivityError{Op: "dial", Addr: address,
			Err: xerrors.New("endpoint closed")}
	}
}

// GetAddress implements transport.Socket
func (s *Socket) GetAddress() string {
	return s.myAddr
}

// Close implements transport.ClosableSocket
func (s *Socket) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.channel.Lock()
		delete(s.channel.sockets, s.myAddr)
		s.channel.Unlock()
	})
	return nil
}

func newConnPair(localAddr, remoteAddr string) (*Conn, *Conn) {
	aToB := make(chan transport.Packet, connBuffer)
	bToA := make(chan transport.Packet, connBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &Conn{remoteAddr: remoteAddr, in: bToA, out: aToB, closed: closed, once: once}
	b := &Conn{remoteAddr: localAddr, in: aToB, out: bToA, closed: closed, once: once}
	return a, b
}

// Conn implements one side of an in-memory duplex connection. Closing either
// side closes both.
//
// - implements transport.Conn
type Conn struct {
	remoteAddr string
	in         chan transport.Packet
	out        chan transport.Packet
	closed     chan struct{}
	once       *sync.Once
}

// Send implements transport.Conn
func (c *Conn) Send(pkt transport.Packet, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout != 0 {
		timer = time.After(timeout)
	}
	select {
	case c.out <- pkt.Copy():
		return nil
	case <-c.closed:
		return xerrors.Errorf("connection closed")
	case <-timer:
		return transport.TimeoutError(timeout)
	}
}

// Recv implements transport.Conn
func (c *Conn) Recv(timeout time.Duration) (transport.Packet, error) {
	var timer <-chan time.Time
	if timeout != 0 {
		timer = time.After(timeout)
	}
	select {
	case pkt := <-c.in:
		return pkt, nil
	case <-c.closed:
		return transport.Packet{}, xerrors.Errorf("connection closed")
	case <-timer:
		return transport.Packet{}, transport.TimeoutError(timeout)
	}
}

// RemoteAddress implements transport.Conn
func (c *Conn) RemoteAddress() string {
	return c.remoteAddr
}

// Close implements transport.Conn
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
