package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/privml/c50d/transport"
	"golang.org/x/xerrors"
)

// maxFrameSize bounds a single packet frame. Count matrices are small; a
// frame larger than this indicates a corrupted stream.
const maxFrameSize = 1 << 22

const (
	maxDialRetries = 3
	dialRetryDelay = time.Second
)

// NewTCP returns a new tcp transport implementation.
func NewTCP() transport.Transport {
	return &TCP{}
}

// TCP implements a transport layer over persistent TCP connections. Each
// packet is framed with a 4-byte big-endian length prefix followed by the
// marshaled packet.
//
// - implements transport.Transport
type TCP struct {
}

// CreateSocket implements transport.Transport
func (t *TCP) CreateSocket(address string) (transport.ClosableSocket, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, transport.ConnectivityError{Op: "bind", Addr: address, Err: err}
	}

	return &Socket{
		listener: listener,
		myAddr:   listener.Addr().String(),
	}, nil
}

// Socket implements a listening endpoint over TCP.
//
// - implements transport.Socket
// - implements transport.ClosableSocket
type Socket struct {
	listener net.Listener
	myAddr   string
	once     sync.Once
}

// Accept implements transport.Socket
func (s *Socket) Accept() (transport.Conn, error) {
	c, err := s.listener.Accept()
	if err != nil {
		return nil, transport.ConnectivityError{Op: "accept", Addr: s.myAddr, Err: err}
	}
	return newConn(c), nil
}

// Dial implements transport.Socket. Connection attempts are retried a fixed
// number of times with a fixed delay before giving up.
func (s *Socket) Dial(address string) (transport.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < maxDialRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(dialRetryDelay)
		}
		c, err := net.Dial("tcp", address)
		if err == nil {
			return newConn(c), nil
		}
		lastErr = err
	}
	return nil, transport.ConnectivityError{Op: "dial", Addr: address, Err: lastErr}
}

// GetAddress implements transport.Socket
func (s *Socket) GetAddress() string {
	return s.myAddr
}

// Close implements transport.ClosableSocket. It returns an error if already
// closed. The listener stays in place so a concurrent Accept observes the
// close instead of a nil dereference.
func (s *Socket) Close() error {
	err := xerrors.Errorf("socket already closed")
	s.once.Do(func() {
		err = s.listener.Close()
	})
	return err
}

func newConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

// Conn implements a persistent duplex connection over TCP.
//
// - implements transport.Conn
type Conn struct {
	conn net.Conn

	sendMu sync.Mutex
	recvMu sync.Mutex
}

// Send implements transport.Conn
func (c *Conn) Send(pkt transport.Packet, timeout time.Duration) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if timeout != 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}

	bytes, err := pkt.Marshal()
	if err != nil {
		return err
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(bytes)))

	_, err = c.conn.Write(prefix[:])
	if err == nil {
		_, err = c.conn.Write(bytes)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return transport.TimeoutError(timeout)
	}
	return err
}

// Recv implements transport.Conn. It blocks until a full frame is received,
// or the timeout is reached.
func (c *Conn) Recv(timeout time.Duration) (transport.Packet, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	pkt := transport.Packet{}

	if timeout != 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	var prefix [4]byte
	_, err := io.ReadFull(c.conn, prefix[:])
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return pkt, transport.TimeoutError(timeout)
	}
	if err != nil {
		return pkt, err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return pkt, xerrors.Errorf("frame of %d bytes exceeds limit", size)
	}

	buffer := make([]byte, size)
	_, err = io.ReadFull(c.conn, buffer)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return pkt, transport.TimeoutError(timeout)
	}
	if err != nil {
		return pkt, err
	}

	err = pkt.Unmarshal(buffer)
	if err != nil {
		return pkt, err
	}
	return pkt, nil
}

// RemoteAddress implements transport.Conn
func (c *Conn) RemoteAddress() string {
	return c.conn.RemoteAddr().String()
}

// Close implements transport.Conn
func (c *Conn) Close() error {
	return c.conn.Close()
}
