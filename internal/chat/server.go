package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

type ServerState int32

const (
	ServerStopped ServerState = iota
	ServerListening
)

func (s ServerState) String() string {
	if s == ServerListening {
		return "listening"
	}
	return "stopped"
}

// Server owns the listener, the registry and every running session.
// A Server is started at most once.
type Server struct {
	cfg    Config
	logger *slog.Logger
	reg    *Registry

	state atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	sessions map[*Session]struct{}
	wg       sync.WaitGroup

	acceptDone chan struct{}
	errCh      chan error
	stopOnce   sync.Once
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Normalize()
	return &Server{
		cfg:        cfg,
		logger:     logger,
		reg:        NewRegistry(defaultRegistryBuffer, cfg.MinNicknameLength, logger),
		sessions:   make(map[*Session]struct{}),
		acceptDone: make(chan struct{}),
		errCh:      make(chan error, 1),
	}
}

func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Err delivers at most one listener failure. It is not closed.
func (s *Server) Err() <-chan error { return s.errCh }

// Start binds the listen address and begins accepting connections in the
// background.
func (s *Server) Start() error {
	if err := s.checkStartable(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if err := s.Serve(ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// Serve accepts connections from ln in the background. The server takes
// ownership of ln and closes it on Stop or when Accept fails.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startableLocked(); err != nil {
		return err
	}
	s.listener = ln
	s.state.Store(int32(ServerListening))

	go s.reg.Run()
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

func (s *Server) checkStartable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startableLocked()
}

func (s *Server) startableLocked() error {
	switch {
	case s.stopped:
		return ErrServerStopped
	case s.listener != nil && s.State() == ServerStopped:
		// The listener failed; a Server does not restart.
		return ErrServerStopped
	case s.listener != nil:
		return ErrServerRunning
	}
	return nil
}

// Stop closes the listener so no new connections are accepted. With
// DisconnectOnStop every open session is closed as well. Stop then waits for
// sessions to finish, bounded by ctx and ShutdownTimeout; the registry keeps
// serving stragglers and stops once the last one is gone. Stopping a server
// that never started only prevents later starts.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	var err error
	s.stopOnce.Do(func() {
		err = s.stop(ctx, ln)
	})
	return err
}

func (s *Server) stop(ctx context.Context, ln net.Listener) error {
	s.logger.Info("shutting down")
	s.state.Store(int32(ServerStopped))

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("close listener", "error", err)
	}
	<-s.acceptDone

	if s.cfg.DisconnectOnStop {
		s.closeSessions()
	}

	go func() {
		s.wg.Wait()
		s.reg.Stop()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	select {
	case <-s.reg.Done():
		s.logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("sessions still running after stop", "sessions", s.sessionCount())
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.State() == ServerStopped || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			s.state.Store(int32(ServerStopped))
			_ = ln.Close()
			select {
			case s.errCh <- fmt.Errorf("accept: %w", err):
			default:
			}
			return
		}

		AcceptedConnections.Inc()
		s.logger.Info("client connected", "remote_addr", conn.RemoteAddr().String())

		sess := NewSession(conn, s.reg, s.cfg, s.logger)
		s.track(sess)
		go func() {
			defer s.untrack(sess)
			sess.Run()
		}()
	}
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	n := len(s.sessions)
	s.mu.Unlock()
	s.wg.Add(1)
	ActiveSessions.Set(float64(n))
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	n := len(s.sessions)
	s.mu.Unlock()
	ActiveSessions.Set(float64(n))
	s.wg.Done()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		if err := sess.Close(); err != nil {
			s.logger.Debug("close session", "session_id", sess.ID().String(), "error", err)
		}
	}
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
