package registry

import (
	"encoding/json"
	"sync"

	"github.com/privml/c50d/transport"
	"github.com/privml/c50d/types"
	"golang.org/x/xerrors"
)

// Callback processes one received message. The packet gives access to the
// header of the message.
type Callback func(msg types.Message, pkt transport.Packet) error

// NewRegistry returns an empty message registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]func() types.Message{},
		callbacks: map[string]Callback{},
	}
}

// Registry dispatches received packets to the callback registered for the
// packet's message type. The valid message set of the protocol is fixed, so
// a packet with an unregistered type is an error, not something to ignore.
type Registry struct {
	sync.RWMutex
	factories map[string]func() types.Message
	callbacks map[string]Callback
}

// RegisterMessageCallback registers a callback for the given message type.
// Registering a type twice overwrites the previous callback.
func (r *Registry) RegisterMessageCallback(msg types.Message, cb Callback) {
	r.Lock()
	defer r.Unlock()
	r.factories[msg.Name()] = msg.NewEmpty
	r.callbacks[msg.Name()] = cb
}

// MarshalMessage wraps a protocol message into a transport message.
func (r *Registry) MarshalMessage(msg types.Message) (transport.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return transport.Message{}, xerrors.Errorf("failed to marshal %s: %v", msg.Name(), err)
	}
	return transport.Message{Type: msg.Name(), Payload: data}, nil
}

// ProcessPacket unmarshals the packet's payload into its registered concrete
// type and invokes the callback.
func (r *Registry) ProcessPacket(pkt transport.Packet) error {
	if pkt.Msg == nil {
		return xerrors.Errorf("packet %s has no message", pkt.Header)
	}

	r.RLock()
	factory, ok := r.factories[pkt.Msg.Type]
	cb := r.callbacks[pkt.Msg.Type]
	r.RUnlock()

	if !ok {
		return xerrors.Errorf("message type %q not registered", pkt.Msg.Type)
	}

	msg := factory()
	err := json.Unmarshal(pkt.Msg.Payload, msg)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal %q payload: %v", pkt.Msg.Type, err)
	}

	return cb(msg, pkt)
}
