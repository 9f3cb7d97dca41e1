package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/privml/c50d/transport"
)

func testPacket(source, destination string) transport.Packet {
	header := transport.NewHeader(source, destination)
	msg := transport.Message{Type: "test", Payload: json.RawMessage(`{"v":1}`)}
	return transport.Packet{Header: &header, Msg: &msg}
}

func Test_channel_roundtrip(t *testing.T) {
	transp := NewTransport()

	server, err := transp.CreateSocket("server:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := transp.CreateSocket("client:0")
	require.NoError(t, err)
	defer client.Close()

	out, err := client.Dial("server:0")
	require.NoError(t, err)

	in, err := server.Accept()
	require.NoError(t, err)
	require.Equal(t, "client:0", in.RemoteAddress())

	sent := testPacket("a", "b")
	require.NoError(t, out.Send(sent, time.Second))

	received, err := in.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, sent.Header.PacketID, received.Header.PacketID)

	// packets are deep-copied on send, mutations do not leak across
	sent.Header.Source = "mallory"
	require.Equal(t, "a", received.Header.Source)
}

func Test_channel_dial_unknown_endpoint(t *testing.T) {
	transp := NewTransport()

	sock, err := transp.CreateSocket("only:0")
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Dial("nobody:0")
	require.ErrorIs(t, err, transport.ConnectivityError{})
}

func Test_channel_recv_timeout(t *testing.T) {
	transp := NewTransport()

	server, err := transp.CreateSocket("server:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := transp.CreateSocket("client:0")
	require.NoError(t, err)
	defer client.Close()

	conn, err := client.Dial("server:0")
	require.NoError(t, err)

	_, err = conn.Recv(20 * time.Millisecond)
	require.ErrorIs(t, err, transport.TimeoutError(0))
}

func Test_channel_auto_address(t *testing.T) {
	transp := NewTransport()

	a, err := transp.CreateSocket(":0")
	require.NoError(t, err)
	b, err := transp.CreateSocket(":0")
	require.NoError(t, err)
	require.NotEqual(t, a.GetAddress(), b.GetAddress())

	// binding a taken address fails
	_, err = transp.CreateSocket(a.GetAddress())
	require.ErrorIs(t, err, transport.ConnectivityError{})
}

func Test_channel_close_unblocks_accept(t *testing.T) {
	transp := NewTransport()

	sock, err := transp.CreateSocket("server:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sock.Accept()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sock.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("accept never unblocked")
	}
}
