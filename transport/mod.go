package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Transport creates sockets bound to an address. A socket both accepts
// inbound connections and dials outbound ones; every connection is a
// persistent duplex stream of packets.
type Transport interface {
	CreateSocket(address string) (ClosableSocket, error)
}

// Socket abstracts the listening endpoint of a node.
type Socket interface {
	// Accept blocks until an inbound connection arrives or the socket is
	// closed.
	Accept() (Conn, error)

	// Dial opens a connection to the given address.
	Dial(address string) (Conn, error)

	// GetAddress returns the bound address. Useful when a ":0" address was
	// provided and the system picked a free port.
	GetAddress() string
}

// ClosableSocket is a socket that can be shut down. Closing unblocks any
// pending Accept.
type ClosableSocket interface {
	Socket
	Close() error
}

// Conn is one persistent duplex connection. Send and Recv are blocking and
// tied one-to-one with the connection; callers must serialize concurrent
// sends themselves.
type Conn interface {
	Send(pkt Packet, timeout time.Duration) error

	// Recv blocks until a packet is received, the timeout is reached
	// (TimeoutError) or the connection is closed.
	Recv(timeout time.Duration) (Packet, error)

	RemoteAddress() string
	Close() error
}

// Packet is what transits on a connection.
type Packet struct {
	Header *Header
	Msg    *Message
}

// Marshal transforms the packet to something that can be sent over a
// connection.
func (p Packet) Marshal() ([]byte, error) {
	return json.Marshal(&p)
}

// Unmarshal parses marshaled data into the packet.
func (p *Packet) Unmarshal(buf []byte) error {
	return json.Unmarshal(buf, p)
}

// Copy returns a deep copy of the packet.
func (p Packet) Copy() Packet {
	h := *p.Header
	m := p.Msg.Copy()
	return Packet{Header: &h, Msg: &m}
}

// NewHeader returns a header with a fresh packet ID.
func NewHeader(source, destination string) Header {
	return Header{
		PacketID:    xid.New().String(),
		Source:      source,
		Destination: destination,
		Timestamp:   time.Now().UnixNano(),
	}
}

// Header carries the addressing metadata of a packet. Source and Destination
// are node IDs, not network addresses.
type Header struct {
	PacketID    string
	Source      string
	Destination string
	Timestamp   int64
}

func (h Header) String() string {
	return fmt.Sprintf("<%s> %s -> %s", h.PacketID, h.Source, h.Destination)
}

// Message is the serialized payload of a packet, tagged with the registered
// message name.
type Message struct {
	Type    string
	Payload json.RawMessage
}

// Copy returns a copy of the message.
func (m Message) Copy() Message {
	payload := make(json.RawMessage, len(m.Payload))
	copy(payload, m.Payload)
	return Message{Type: m.Type, Payload: payload}
}

// TimeoutError is returned when a blocking operation exceeds its deadline.
type TimeoutError time.Duration

func (err TimeoutError) Error() string {
	return fmt.Sprintf("timeout reached after %s", time.Duration(err))
}

// Is implements support for errors.Is.
func (err TimeoutError) Is(other error) bool {
	_, ok := other.(TimeoutError)
	return ok
}

// ConnectivityError wraps bind, dial and accept failures. Dials are retried
// a bounded number of times before this error surfaces; it is fatal to the
// run.
type ConnectivityError struct {
	Op   string
	Addr string
	Err  error
}

func (err ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s %s: %v", err.Op, err.Addr, err.Err)
}

// Unwrap returns the underlying error.
func (err ConnectivityError) Unwrap() error {
	return err.Err
}

// Is implements support for errors.Is.
func (err ConnectivityError) Is(other error) bool {
	_, ok := other.(ConnectivityError)
	return ok
}
