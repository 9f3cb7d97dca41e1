package types

// Message defines a message processable by a node's registry. Every protocol
// message must register itself with the registry before packets of that type
// can be dispatched.
type Message interface {
	// NewEmpty returns a new empty message of the same concrete type.
	NewEmpty() Message

	// Name returns the unique name of the message type.
	Name() string

	// String returns a human readable representation of the message.
	String() string
}
