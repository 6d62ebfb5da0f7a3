package relay

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho runs a line-echo server and returns its address.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					fmt.Fprintf(conn, "echo: %s\n", scanner.Text())
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func startRelay(t *testing.T, target string) (*Relay, context.CancelFunc) {
	t.Helper()
	r := New("127.0.0.1:0", target)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Serve(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for r.Addr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("relay did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return r, cancel
}

func TestRelayForwardsBothDirections(t *testing.T) {
	r, cancel := startRelay(t, startEcho(t))
	defer cancel()

	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintln(conn, "hello")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: hello\n", line)
}

func TestRelayConcurrentConnections(t *testing.T) {
	r, cancel := startRelay(t, startEcho(t))
	defer cancel()

	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(n int) {
			conn, err := net.Dial("tcp", r.Addr().String())
			if err != nil {
				done <- err
				return
			}
			defer conn.Close()

			fmt.Fprintf(conn, "msg-%d\n", n)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err == nil && line != fmt.Sprintf("echo: msg-%d\n", n) {
				err = fmt.Errorf("unexpected reply %q", line)
			}
			done <- err
		}(i)
	}
	for i := 0; i < 3; i++ {
		assert.NoError(t, <-done)
	}
}

func TestRelayDeadTargetClosesConnection(t *testing.T) {
	// A listener that is immediately closed yields a dead target address.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := dead.Addr().String()
	dead.Close()

	r, cancel := startRelay(t, target)
	defer cancel()

	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "connection should be closed, not left hanging")
}

func TestRelayStopsOnCancel(t *testing.T) {
	r := New("127.0.0.1:0", "127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
