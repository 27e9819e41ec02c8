package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GH41318103/kvengine/internal/engine"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	e, err := engine.Open(t.TempDir(), engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	s := New(addr, e, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		s.Close()
	})

	waitForListener(t, addr)
	return addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}

func TestServer_HandlesSetGetOverRealConnection(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", line)

	_, err = conn.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"))
	require.NoError(t, err)

	header, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "$1\r\n", header)
	body, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "v\r\n", body)
}

func TestServer_HandlesPipelinedPings(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "+PONG\r\n", line)
	}
}

func TestServer_MultipleConnectionsAreIndependent(t *testing.T) {
	addr := startTestServer(t)

	connA, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connA.Close()
	connB, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connB.Close()

	_, err = connA.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nx\r\n$1\r\n1\r\n"))
	require.NoError(t, err)
	rA := bufio.NewReader(connA)
	line, err := rA.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", line)

	_, err = connB.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nx\r\n"))
	require.NoError(t, err)
	rB := bufio.NewReader(connB)
	header, err := rB.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "$1\r\n", header)
}
