package tcp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/privml/c50d/transport"
)

func testPacket(source, destination string) transport.Packet {
	header := transport.NewHeader(source, destination)
	msg := transport.Message{Type: "test", Payload: json.RawMessage(`{"v":42}`)}
	return transport.Packet{Header: &header, Msg: &msg}
}

func Test_tcp_roundtrip(t *testing.T) {
	transp := NewTCP()

	server, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		conn, err := server.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	out, err := client.Dial(server.GetAddress())
	require.NoError(t, err)
	defer out.Close()

	var in transport.Conn
	select {
	case in = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept never returned")
	}
	defer in.Close()

	sent := testPacket("a", "b")
	require.NoError(t, out.Send(sent, time.Second))

	received, err := in.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, sent.Header.PacketID, received.Header.PacketID)
	require.Equal(t, "test", received.Msg.Type)
	require.JSONEq(t, `{"v":42}`, string(received.Msg.Payload))

	// duplex: the accepted side can answer on the same connection
	reply := testPacket("b", "a")
	require.NoError(t, in.Send(reply, time.Second))

	received, err = out.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, reply.Header.PacketID, received.Header.PacketID)
}

func Test_tcp_recv_timeout(t *testing.T) {
	transp := NewTCP()

	server, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	go server.Accept()

	conn, err := client.Dial(server.GetAddress())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Recv(50 * time.Millisecond)
	require.ErrorIs(t, err, transport.TimeoutError(0))
}

func Test_tcp_close_is_idempotent_error(t *testing.T) {
	transp := NewTCP()

	sock, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, sock.Close())
	require.Error(t, sock.Close())
}

// closing while another goroutine blocks in Accept must surface an error on
// the accept side, never a panic
func Test_tcp_close_unblocks_accept(t *testing.T) {
	transp := NewTCP()

	sock, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sock.Accept()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sock.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, transport.ConnectivityError{})
	case <-time.After(2 * time.Second):
		t.Fatal("accept never unblocked")
	}

	// accept after close errors as well
	_, err = sock.Accept()
	require.Error(t, err)
}
