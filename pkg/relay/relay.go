// Package relay forwards TCP connections from one address to another. The
// launcher runs one to expose a loopback-only service on the Docker bridge
// address, so containers can reach a host daemon that does not listen on the
// bridge itself.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/launcher/pkg/log"
)

const dialTimeout = 10 * time.Second

// DefaultListenAddr is the Docker bridge gateway as containers see the host.
const DefaultListenAddr = "172.17.0.1:11434"

// DefaultTargetAddr is the loopback service being exposed.
const DefaultTargetAddr = "127.0.0.1:11434"

// Relay copies bytes between accepted connections and a fixed target.
type Relay struct {
	ListenAddr string
	TargetAddr string

	logger zerolog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// Addr returns the bound listen address once Serve is accepting, nil before.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

func New(listenAddr, targetAddr string) *Relay {
	return &Relay{
		ListenAddr: listenAddr,
		TargetAddr: targetAddr,
		logger:     log.WithComponent("relay"),
	}
}

// Serve accepts connections until ctx is cancelled. Each connection gets its
// own goroutine; a failed dial to the target closes only that connection.
func (r *Relay) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.ListenAddr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.addr = ln.Addr()
	r.mu.Unlock()
	r.logger.Info().Str("listen", ln.Addr().String()).Str("target", r.TargetAddr).Msg("relay listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forward(conn)
		}()
	}
}

// forward pipes one accepted connection to the target in both directions and
// closes both ends when either side finishes.
func (r *Relay) forward(src net.Conn) {
	defer src.Close()

	dst, err := net.DialTimeout("tcp", r.TargetAddr, dialTimeout)
	if err != nil {
		r.logger.Warn().Err(err).Str("target", r.TargetAddr).Msg("relay dial failed")
		return
	}
	defer dst.Close()

	done := make(chan struct{}, 2)
	copyConn := func(w, rd net.Conn) {
		_, err := io.Copy(w, rd)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			r.logger.Debug().Err(err).Msg("relay copy ended")
		}
		// Unblock the opposite copy.
		w.Close()
		rd.Close()
		done <- struct{}{}
	}

	go copyConn(dst, src)
	copyConn(src, dst)
	<-done
}
