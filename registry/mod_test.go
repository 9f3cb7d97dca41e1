package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/privml/c50d/transport"
	"github.com/privml/c50d/types"
)

func Test_registry_dispatch(t *testing.T) {
	reg := NewRegistry()

	var got *types.AckMessage
	reg.RegisterMessageCallback(types.AckMessage{}, func(msg types.Message, pkt transport.Packet) error {
		got = msg.(*types.AckMessage)
		return nil
	})

	m, err := reg.MarshalMessage(types.AckMessage{RunID: "run-1", AckedPacketID: "pkt-9"})
	require.NoError(t, err)
	require.Equal(t, "ack", m.Type)

	header := transport.NewHeader("a", "b")
	err = reg.ProcessPacket(transport.Packet{Header: &header, Msg: &m})
	require.NoError(t, err)

	require.NotNil(t, got)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "pkt-9", got.AckedPacketID)
}

// the protocol's message set is closed: unknown types are an error
func Test_registry_rejects_unregistered_type(t *testing.T) {
	reg := NewRegistry()

	header := transport.NewHeader("a", "b")
	msg := transport.Message{Type: "gossip", Payload: []byte(`{}`)}
	err := reg.ProcessPacket(transport.Packet{Header: &header, Msg: &msg})
	require.Error(t, err)

	err = reg.ProcessPacket(transport.Packet{Header: &header})
	require.Error(t, err)
}
