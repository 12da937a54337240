// Package server is the line-protocol front end: a TCP listener with one
// goroutine per connection, CRLF framing, and per-connection client
// identities handed to the dispatcher.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/eleven-am/rentd/internal/dispatch"
	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/ports"
)

type Server struct {
	addr       string
	dispatcher *dispatch.Dispatcher
	registry   ports.ClientRegistry
	hub        *Hub
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

func New(addr string, dispatcher *dispatch.Dispatcher, registry ports.ClientRegistry, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       addr,
		dispatcher: dispatcher,
		registry:   registry,
		hub:        hub,
		logger:     logger.With("component", "server"),
	}
}

// Start opens the listener and begins accepting connections. It returns once
// the listener is bound; serving continues until Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return domain.ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.started = true
	s.mu.Unlock()

	s.logger.Info("serving", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	context.AfterFunc(ctx, func() {
		s.Stop()
	})
	return nil
}

// Addr returns the bound listener address, useful when started on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every live connection, then waits for the
// per-connection goroutines to drain. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	listener.Close()
	s.hub.closeAll()
	s.wg.Wait()
	s.logger.Info("server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err.Error())
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()

	clientID := uuid.NewString()
	remoteAddr := raw.RemoteAddr().String()
	c := &connection{clientID: clientID, conn: raw}

	if err := s.registry.Register(clientID, remoteAddr); err != nil {
		s.logger.Error("client registration failed", "client_id", clientID, "error", err.Error())
		c.close()
		return
	}
	s.hub.add(c)
	s.logger.Info("new connection", "client_id", clientID, "remote_addr", remoteAddr)

	defer func() {
		s.hub.remove(clientID)
		if err := s.registry.Deregister(clientID); err != nil {
			s.logger.Warn("client deregistration failed", "client_id", clientID, "error", err.Error())
		}
		c.close()
		s.logger.Info("closed connection", "client_id", clientID, "remote_addr", remoteAddr)
	}()

	// A lease held by this client is deliberately NOT released here; it runs
	// out through the expiry scheduler like any other. Callers wanting
	// release-on-disconnect must invoke the allocator from their own teardown.

	scanner := bufio.NewScanner(raw)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		reply, ok := s.dispatcher.Dispatch(context.Background(), clientID, line)
		if !ok {
			continue
		}
		if err := c.write(reply); err != nil {
			s.logger.Debug("reply write failed", "client_id", clientID, "error", err.Error())
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("connection read ended", "client_id", clientID, "error", err.Error())
	}
}
