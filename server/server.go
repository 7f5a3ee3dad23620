package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Server accepts client connections and runs each on its own goroutine
// against a shared State
type Server struct {
	state *State

	addr     string
	listener net.Listener
	conns    sync.Map // map[string]*Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger

	// Metrics
	connCount    int64
	commandCount int64
	errorCount   int64
}

// NewServer creates a server for state listening on addr
func NewServer(addr string, state *State) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		state:  state,
		addr:   addr,
		ctx:    ctx,
		cancel: cancel,
		logger: &nopLogger{},
	}
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// State returns the shared node state
func (s *Server) State() *State {
	return s.state
}

// Start listens and begins accepting connections in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.logger.Info("Server listening", "addr", listener.Addr().String(), "role", s.state.Role().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop closes the listener and every connection and waits for their
// goroutines to exit
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.conns.Range(func(_, value interface{}) bool {
		value.(*Conn).Close()
		return true
	})

	s.wg.Wait()
	s.state.Registry().CloseAll()
	return err
}

// Addr returns the listening address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	clientCount := 0
	s.conns.Range(func(_, _ interface{}) bool {
		clientCount++
		return true
	})

	return map[string]interface{}{
		"connected_clients":  clientCount,
		"connected_replicas": s.state.Registry().Count(),
		"total_commands":     atomic.LoadInt64(&s.commandCount),
		"total_errors":       atomic.LoadInt64(&s.errorCount),
		"total_connections":  atomic.LoadInt64(&s.connCount),
	}
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", "error", err)
			s.recordError("accept")
			continue
		}

		s.handleNewConn(netConn)
	}
}

func (s *Server) handleNewConn(netConn net.Conn) {
	atomic.AddInt64(&s.connCount, 1)

	c := newConn(s, netConn)
	s.conns.Store(c.id, c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.conns.Delete(c.id)
		c.serve()
	}()

	// Stop may have run between Accept and Store
	if s.ctx.Err() != nil {
		c.Close()
	}
}

func (s *Server) recordError(errorType string) {
	if s.state.metrics != nil {
		s.state.metrics.RecordError(errorType)
	}
}
