package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/config"
	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	listen     string
	baseDir    string
	workers    int
	timeout    time.Duration
	retries    int
	allowWrite bool
	reusePort  bool
	trace      bool
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	conn    net.PacketConn
	closing atomic.Bool
}

func NewServer(l *zap.SugaredLogger, cfg *config.Config) *Server {
	return &Server{
		logger:     l,
		listen:     cfg.Listen,
		baseDir:    cfg.BaseDir,
		workers:    max(cfg.Workers, 1),
		timeout:    cfg.TimeoutDuration(),
		retries:    cfg.Retries,
		allowWrite: cfg.AllowWrite,
		reusePort:  cfg.ReusePort,
		trace:      cfg.Trace,
	}
}

// Listen binds the shared listening socket.
func (s *Server) Listen() (net.Addr, error) {
	lc := net.ListenConfig{}
	if s.reusePort {
		lc.Control = controlReusePort()
	}

	conn, err := lc.ListenPacket(context.Background(), "udp", s.listen)
	if err != nil {
		s.logger.Errorf("error while listening on %s: %s", s.listen, err.Error())

		return nil, fmt.Errorf("%w: %w", utils.ErrStartingServer, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	return conn.LocalAddr(), nil
}

// Serve runs the worker pool on the socket bound by Listen until Close.
// Every worker receives on the shared socket and handles one request at a
// time.
func (s *Server) Serve() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: server is not listening", utils.ErrStartingServer)
	}

	var g errgroup.Group

	for i := 0; i < s.workers; i++ {
		id := i

		g.Go(func() error {
			return s.work(id, conn)
		})
	}

	return g.Wait()
}

func (s *Server) ListenAndServe() error {
	if _, err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	s.closing.Store(true)

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("error while closing connection: %w", err)
	}

	return nil
}

func (s *Server) work(id int, conn net.PacketConn) error {
	datagram := make([]byte, types.MaxRequestSize)

	for {
		n, addr, err := conn.ReadFrom(datagram)
		if err != nil {
			if errors.Is(err, net.ErrClosed) && s.closing.Load() {
				s.logger.Debugf("worker %d stopped", id)

				return nil
			}

			return fmt.Errorf("error while reading from listening socket: %w", err)
		}

		s.dispatch(conn, datagram[:n], addr)
	}
}

// dispatch routes one datagram received on the listening socket. A panic in
// a handler is logged and the worker goes back to receiving.
func (s *Server) dispatch(conn net.PacketConn, datagram []byte, addr net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("handler for %s panicked: %v", addr, r)
		}
	}()

	op, err := types.PeekOpcode(datagram)
	if err != nil {
		s.logger.Debugf("dropping datagram from %s: %s", addr, err.Error())
		sendErrorPacket(s.logger, conn, addr, types.NewError(types.ErrIllegalTftpOp, ""))

		return
	}

	switch op {
	case types.OpCodeRRQ, types.OpCodeWRQ:
		n, err := s.Handle(datagram, addr)
		if err != nil {
			s.logger.Errorf("error while responding to %s from %s: %s", op, addr, err.Error())

			return
		}

		s.logger.Infof("%s from %s done, %d bytes", op, addr, n)
	case types.OpCodeError:
		s.logger.Debugf("ignoring error packet from %s on the listening socket", addr)
	default:
		s.logger.Debugf("unexpected %s from %s on the listening socket", op, addr)
		sendErrorPacket(s.logger, conn, addr, types.NewError(types.ErrIllegalTftpOp, ""))
	}
}
