package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/resolver"
	"github.com/Wa4h1h/lockstep-tftp/pkg/transfer"
	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Connector interface {
	Connect(ctx context.Context, host string, port uint16) error
	Get(remote, local string) (int64, error)
	Put(local, remote string) (int64, error)
	Dir(w io.Writer) (int64, error)
	SetTimeout(timeout uint)
	SetRetries(retries int)
	SetTrace() bool
	Status() string
}

type Client struct {
	l        *zap.SugaredLogger
	resolver *resolver.Resolver
	server   *net.UDPAddr
	host     resolver.Host
	timeout  time.Duration
	retries  int
	trace    bool
}

func NewClient(l *zap.SugaredLogger, r *resolver.Resolver) *Client {
	if r == nil {
		r = resolver.New(nil)
	}

	return &Client{l: l, resolver: r, timeout: types.DefaultTimeout}
}

func (c *Client) SetTimeout(timeout uint) {
	c.timeout = time.Duration(timeout) * time.Second
}

func (c *Client) SetRetries(retries int) {
	c.retries = max(retries, 0)
}

// SetTrace toggles per block logging and returns the new setting.
func (c *Client) SetTrace() bool {
	c.trace = !c.trace

	return c.trace
}

func (c *Client) Status() string {
	server := "not connected"
	if c.server != nil {
		server = fmt.Sprintf("connected to %s port %d", c.host, c.server.Port)
	}

	return fmt.Sprintf("%s, mode %s, timeout %s, retries %d, trace %t",
		server, types.ModeOctet, c.timeout, c.retries, c.trace)
}

// Host returns the server resolved by the last Connect.
func (c *Client) Host() resolver.Host {
	return c.host
}

func (c *Client) Connect(ctx context.Context, host string, port uint16) error {
	addr, h, err := c.resolver.ResolveUDP(ctx, host, port)
	if err != nil {
		return err
	}

	c.server, c.host = addr, h

	return nil
}

// Fetch retrieves remoteName from server into dst and returns the number of
// bytes received. dst may hold a partial file when an error is returned.
func (c *Client) Fetch(server *net.UDPAddr, remoteName string, dst io.Writer) (n int64, err error) {
	t, closeConn, err := c.open(server)
	if err != nil {
		return 0, err
	}

	defer func() { err = multierr.Append(err, closeConn()) }()

	if err := t.Request(types.OpCodeRRQ, remoteName); err != nil {
		return 0, err
	}

	return t.Receive(dst)
}

// Store sends src to server as remoteName and returns the number of bytes
// acknowledged.
func (c *Client) Store(server *net.UDPAddr, src io.Reader, remoteName string) (n int64, err error) {
	t, closeConn, err := c.open(server)
	if err != nil {
		return 0, err
	}

	defer func() { err = multierr.Append(err, closeConn()) }()

	if err := t.Request(types.OpCodeWRQ, remoteName); err != nil {
		return 0, err
	}

	return t.Send(src)
}

func (c *Client) open(server *net.UDPAddr) (*transfer.Transfer, func() error, error) {
	network := "udp6"
	if server.IP.To4() != nil {
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error while opening socket: %w", err)
	}

	t := transfer.New(conn, server, c.l, transfer.Config{
		Timeout:   c.timeout,
		Retries:   c.retries,
		LearnPeer: true,
		Trace:     c.trace,
	})

	return t, conn.Close, nil
}

// Get fetches remote into the local file. The data goes to a temporary file
// next to local that replaces it only once the transfer succeeded.
func (c *Client) Get(remote, local string) (int64, error) {
	if c.server == nil {
		return 0, utils.ErrNotConnected
	}

	if local == "" {
		local = filepath.Base(filepath.FromSlash(remote))
	}

	f, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".part-*")
	if err != nil {
		return 0, localError(local, err)
	}

	n, err := c.Fetch(c.server, remote, f)
	err = multierr.Append(err, f.Close())

	if err == nil {
		err = os.Rename(f.Name(), local)
	}

	if err != nil {
		if errRm := os.Remove(f.Name()); errRm != nil && !errors.Is(errRm, fs.ErrNotExist) {
			err = multierr.Append(err, errRm)
		}

		return 0, err
	}

	c.l.Debugf("received %s from %s into %s, %d bytes", remote, c.server, local, n)

	return n, nil
}

func (c *Client) Put(local, remote string) (int64, error) {
	if c.server == nil {
		return 0, utils.ErrNotConnected
	}

	if remote == "" {
		remote = filepath.Base(local)
	}

	f, err := os.Open(local)
	if err != nil {
		return 0, localError(local, err)
	}

	defer func() {
		if err := f.Close(); err != nil {
			c.l.Errorf("error while closing file: %s", err.Error())
		}
	}()

	n, err := c.Store(c.server, f, remote)
	if err != nil {
		return n, err
	}

	c.l.Debugf("sent %s to %s as %s, %d bytes", local, c.server, remote, n)

	return n, nil
}

// Dir writes the listing of the server's directory to w.
func (c *Client) Dir(w io.Writer) (int64, error) {
	if c.server == nil {
		return 0, utils.ErrNotConnected
	}

	return c.Fetch(c.server, "", w)
}

func localError(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", utils.ErrFileNotFound, name)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", utils.ErrAccessViolation, name)
	default:
		return fmt.Errorf("error while opening %s: %w", name, err)
	}
}
