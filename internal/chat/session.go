package chat

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// flushTimeout bounds how long teardown waits for queued lines to reach a
// peer that stopped reading.
const flushTimeout = 2 * time.Second

// Session drives one client connection: nickname negotiation, the relay loop
// and teardown.
type Session struct {
	id     uuid.UUID
	conn   net.Conn
	reg    *Registry
	out    *outbox
	reader *bufio.Reader
	logger *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	nickname string

	teardownOnce sync.Once
}

func NewSession(conn net.Conn, reg *Registry, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Session{
		id:     id,
		conn:   conn,
		reg:    reg,
		out:    newOutbox(conn, cfg.OutboxSize, cfg.SendTimeout),
		reader: bufio.NewReader(conn),
		logger: logger.With("session_id", id.String(), "remote_addr", conn.RemoteAddr().String()),
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Nickname is empty until negotiation succeeds.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// Run blocks until the client leaves or the connection fails, then tears the
// session down.
func (s *Session) Run() {
	defer s.Teardown()

	if !s.negotiate() {
		return
	}
	s.state.Store(int32(StateRelaying))
	s.relay()
}

func (s *Session) negotiate() bool {
	for {
		candidate, err := ReadLine(s.reader)
		if err != nil {
			s.logReadEnd("negotiation", err)
			return false
		}

		err = s.reg.Join(candidate, s.out, NicknameAccepted, ConnectNotice(candidate))
		switch {
		case err == nil:
			s.mu.Lock()
			s.nickname = candidate
			s.mu.Unlock()
			s.state.Store(int32(StateRegistered))
			s.logger.Info(ConnectNotice(candidate), "nickname", candidate)
			return true
		case errors.Is(err, ErrRegistryClosed):
			return false
		default:
			s.logger.Debug("nickname rejected", "candidate", candidate, "error", err)
			if werr := s.out.WriteLine(NicknameInvalid); werr != nil {
				return false
			}
		}
	}
}

func (s *Session) relay() {
	nickname := s.Nickname()
	for {
		line, err := ReadLine(s.reader)
		if err != nil {
			s.logReadEnd("relay", err)
			return
		}
		if line == DisconnectToken {
			return
		}
		if _, err := s.reg.Broadcast(ChatLine(nickname, line)); err != nil {
			return
		}
	}
}

// Teardown announces the departure (if a nickname was registered), releases
// the nickname and closes the connection. Only the first call has an effect.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		if nickname := s.Nickname(); nickname != "" {
			if err := s.reg.Leave(nickname, DisconnectNotice(nickname)); err != nil {
				s.logger.Warn("unregister failed", "nickname", nickname, "error", err)
			}
			s.logger.Info(DisconnectNotice(nickname), "nickname", nickname)
		}

		s.out.Close()
		_ = s.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
		<-s.out.Done()

		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("close connection", "error", err)
		}
	})
}

// Close closes the underlying connection, which unblocks Run. Teardown still
// runs on the Run goroutine.
func (s *Session) Close() error {
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) logReadEnd(phase string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.logger.Debug("peer closed", "phase", phase)
		return
	}
	s.logger.Debug("read failed", "phase", phase, "error", err)
}
