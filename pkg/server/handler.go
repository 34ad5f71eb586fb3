package server

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/Wa4h1h/lockstep-tftp/pkg/transfer"
	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"go.uber.org/multierr"
)

// Handle answers one RRQ or WRQ from addr over a fresh ephemeral socket,
// which is closed when the transfer ends. It returns the number of payload
// bytes transferred.
func (s *Server) Handle(datagram []byte, addr net.Addr) (int64, error) {
	conn, err := s.ephemeral()
	if err != nil {
		return 0, err
	}

	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Errorf("error while closing connection with %s: %s", addr, err.Error())
		}
	}()

	t := transfer.New(conn, addr, s.logger.With("peer", addr.String()), transfer.Config{
		Timeout: s.timeout,
		Retries: s.retries,
		Trace:   s.trace,
	})

	var req types.Request

	if err := req.UnmarshalBinary(datagram); err != nil {
		t.Abort(types.ErrIllegalTftpOp, "")

		return 0, err
	}

	if !strings.EqualFold(req.Mode, types.ModeOctet) {
		t.Abort(types.ErrIllegalTftpOp, fmt.Sprintf("mode %q is not supported", req.Mode))

		return 0, fmt.Errorf("%w: mode %q", utils.ErrInvalidArgument, req.Mode)
	}

	if req.Opcode == types.OpCodeWRQ {
		return s.receiveFile(t, req.Filename)
	}

	if req.Filename == "" {
		return s.sendListing(t)
	}

	return s.sendFile(t, req.Filename)
}

func (s *Server) ephemeral() (*net.UDPConn, error) {
	laddr := &net.UDPAddr{}

	if ua, ok := s.Addr().(*net.UDPAddr); ok && !ua.IP.IsUnspecified() {
		laddr.IP = ua.IP
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("error while binding transfer socket: %w", err)
	}

	return conn, nil
}

func (s *Server) sendListing(t *transfer.Transfer) (int64, error) {
	listing, err := Listing(s.baseDir)
	if err != nil {
		t.Abort(types.ErrAccessViolation, "")

		return 0, fmt.Errorf("%w: %w", utils.ErrAccessViolation, err)
	}

	return t.Send(bytes.NewReader(listing))
}

func (s *Server) sendFile(t *transfer.Transfer, filename string) (int64, error) {
	path, err := s.localPath(filename)
	if err != nil {
		t.Abort(types.ErrAccessViolation, "")

		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, s.abortOpen(t, filename, err)
	}

	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Errorf("error while closing file: %s", err.Error())
		}
	}()

	if stats, err := f.Stat(); err != nil || stats.IsDir() {
		t.Abort(types.ErrAccessViolation, fmt.Sprintf("%s is not a regular file", filename))

		return 0, fmt.Errorf("%w: %s is not a regular file", utils.ErrAccessViolation, filename)
	}

	return t.Send(f)
}

func (s *Server) receiveFile(t *transfer.Transfer, filename string) (n int64, err error) {
	if !s.allowWrite {
		t.Abort(types.ErrIllegalTftpOp, "write requests are disabled")

		return 0, fmt.Errorf("%w: write requests are disabled", utils.ErrAccessViolation)
	}

	if filename == "" {
		t.Abort(types.ErrIllegalTftpOp, "a filename is required")

		return 0, fmt.Errorf("%w: write request without filename", utils.ErrInvalidArgument)
	}

	path, err := s.localPath(filename)
	if err != nil {
		t.Abort(types.ErrAccessViolation, "")

		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, s.abortOpen(t, filename, err)
	}

	defer func() {
		err = multierr.Append(err, f.Close())

		if err != nil {
			err = multierr.Append(err, os.Remove(path))
		}
	}()

	if err := t.AcknowledgeWrq(); err != nil {
		return 0, err
	}

	return t.Receive(f)
}

// localPath maps a request filename into the base dir. Names that would
// escape it are an access violation.
func (s *Server) localPath(filename string) (string, error) {
	name := filepath.FromSlash(filename)

	if name != "" && !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q is outside the served directory", utils.ErrAccessViolation, filename)
	}

	return filepath.Join(s.baseDir, name), nil
}

// abortOpen reports a failure to open the requested file before any data
// is exchanged.
func (s *Server) abortOpen(t *transfer.Transfer, filename string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		t.Abort(types.ErrFileNotFound, "")

		return fmt.Errorf("%w: %s", utils.ErrFileNotFound, filename)
	case errors.Is(err, fs.ErrExist):
		t.Abort(types.ErrFileAlreadyExists, "")

		return fmt.Errorf("%w: %s", utils.ErrFileExists, filename)
	case errors.Is(err, fs.ErrPermission):
		t.Abort(types.ErrAccessViolation, "")

		return fmt.Errorf("%w: %s", utils.ErrAccessViolation, filename)
	default:
		t.Abort(types.ErrNotDefined, "")

		return fmt.Errorf("error while opening %s: %w", filename, err)
	}
}
