// Package server implements the thread-per-connection RESP TCP
// front-end over the engine facade, per spec.md §6.3/§6.4.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/GH41318103/kvengine/internal/dispatcher"
	"github.com/GH41318103/kvengine/internal/engine"
	"github.com/GH41318103/kvengine/internal/protocol"
)

// Server listens on a TCP address and serves the spec.md §6.3 command
// subset over RESP, one goroutine per connection.
type Server struct {
	addr   string
	engine *engine.Engine
	disp   *dispatcher.Dispatcher

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup

	log *logrus.Entry
}

// New constructs a Server bound to addr, serving e.
func New(addr string, e *engine.Engine, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		addr:   addr,
		engine: e,
		disp:   dispatcher.New(e),
		log:    logger.WithField("component", "server"),
	}
}

// Start listens on s.addr and serves connections until ctx is
// cancelled or Close is called. It blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.WithField("addr", s.addr).Info("server: listening")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.WithError(err).Warn("server: accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight
// connections to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	s.log.WithField("remote_addr", addr).Debug("server: connection opened")

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	for {
		val, err := reader.ReadValue()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.WithField("remote_addr", addr).WithError(err).Debug("server: connection closed")
			}
			return
		}

		cmd, args, ok := commandAndArgs(val)
		if !ok {
			writer.WriteError("invalid command format")
			continue
		}

		if err := s.disp.Dispatch(writer, cmd, args); err != nil {
			s.log.WithField("remote_addr", addr).WithError(err).Warn("server: write reply failed")
			return
		}
	}
}

// commandAndArgs extracts the command name and argument values from a
// parsed RESP array-of-bulk-strings request.
func commandAndArgs(v protocol.Value) (string, []protocol.Value, bool) {
	if v.Type != protocol.TypeArray || len(v.Array) == 0 {
		return "", nil, false
	}
	return v.Array[0].Str, v.Array[1:], true
}
