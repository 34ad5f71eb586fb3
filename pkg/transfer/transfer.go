// Package transfer implements the lockstep block exchange shared by the
// client and the server: one DATA packet in flight, one ACK per DATA.
package transfer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"go.uber.org/zap"
)

// PacketConn is the datagram transport a transfer runs over. *net.UDPConn
// satisfies it as long as it is not connected.
type PacketConn interface {
	ReadFrom(p []byte) (int, net.Addr, error)
	WriteTo(p []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
}

type State int

const (
	StateStart State = iota
	StateExchanging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateExchanging:
		return "exchanging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	// Timeout bounds every receive. Zero means types.DefaultTimeout.
	Timeout time.Duration
	// Retries is how many times the last packet is sent again after a
	// receive timeout. Zero makes the first timeout terminal.
	Retries int
	// LearnPeer lets the source of the first reply replace the peer address.
	// Servers know their peer up front and leave it false.
	LearnPeer bool
	Trace     bool
}

type Transfer struct {
	conn    PacketConn
	peer    net.Addr
	l       *zap.SugaredLogger
	cfg     Config
	state   State
	learned bool
	wrq     bool
	last    []byte
	buf     []byte
}

func New(conn PacketConn, peer net.Addr, l *zap.SugaredLogger, cfg Config) *Transfer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}

	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return &Transfer{
		conn: conn,
		peer: peer,
		l:    l,
		cfg:  cfg,
		// one spare byte to notice oversized data packets
		buf: make([]byte, types.DatagramSize+1),
	}
}

func (t *Transfer) State() State {
	return t.state
}

// Peer returns the current peer address, which changes once when LearnPeer
// is set and the first reply arrives.
func (t *Transfer) Peer() net.Addr {
	return t.peer
}

// Request sends an RRQ or WRQ to the peer. After a WRQ, Send waits for
// ACK 0 before sending the first data block.
func (t *Transfer) Request(op types.OpCode, filename string) error {
	b, err := types.EncodeRequest(op, filename, types.ModeOctet)
	if err != nil {
		return err
	}

	if err := t.write(b); err != nil {
		return err
	}

	t.wrq = op == types.OpCodeWRQ

	return nil
}

// AcknowledgeWrq answers an accepted write request with ACK 0.
func (t *Transfer) AcknowledgeWrq() error {
	return t.write(types.EncodeAck(0))
}

// Abort reports a failure to the peer with an error packet. It does not
// change the transfer state.
func (t *Transfer) Abort(code types.ErrCode, msg string) {
	b, err := types.NewError(code, msg).MarshalBinary()
	if err != nil {
		t.l.Errorf("error while marshalling error packet: %s", err.Error())

		return
	}

	if _, err := t.conn.WriteTo(b, t.peer); err != nil {
		t.l.Errorf("error while sending error packet to %s: %s", t.peer, err.Error())
	}
}

func (t *Transfer) write(b []byte) error {
	if _, err := t.conn.WriteTo(b, t.peer); err != nil {
		return fmt.Errorf("error while writing to %s: %w", t.peer, err)
	}

	t.last = b

	return nil
}

func (t *Transfer) fail(err error) error {
	t.state = StateFailed

	return err
}

// next waits for the next datagram of this transfer and returns its opcode.
// Error packets are turned into a *utils.RemoteError. Datagrams from other
// addresses are answered with "unknown transfer ID" and skipped.
func (t *Transfer) next() (types.OpCode, []byte, error) {
	deadline := time.Now().Add(t.cfg.Timeout)
	retries := t.cfg.Retries

	for {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return 0, nil, fmt.Errorf("error while setting read timeout: %w", err)
		}

		n, addr, err := t.conn.ReadFrom(t.buf)
		if err != nil {
			if !isTimeout(err) {
				return 0, nil, fmt.Errorf("error while reading from connection: %w", err)
			}

			if retries == 0 || t.last == nil {
				return 0, nil, fmt.Errorf("%w: nothing received from %s within %s", utils.ErrTimeout, t.peer, t.cfg.Timeout)
			}

			retries--

			t.l.Debugf("timeout, sending last packet to %s again", t.peer)

			if err := t.write(t.last); err != nil {
				return 0, nil, err
			}

			deadline = time.Now().Add(t.cfg.Timeout)

			continue
		}

		if !t.accept(addr) {
			t.l.Debugf("dropping datagram from unknown transfer %s", addr)
			t.rejectStranger(addr)

			continue
		}

		pkt := t.buf[:n]

		op, err := types.PeekOpcode(pkt)
		if err != nil {
			t.Abort(types.ErrIllegalTftpOp, "")

			return op, nil, fmt.Errorf("%w: %w", utils.ErrProtocolViolation, err)
		}

		if op == types.OpCodeError {
			code, msg, err := types.DecodeError(pkt)
			if err != nil {
				return op, nil, err
			}

			return op, nil, &utils.RemoteError{Code: uint16(code), Message: msg}
		}

		return op, pkt, nil
	}
}

func (t *Transfer) accept(addr net.Addr) bool {
	if sameAddr(addr, t.peer) {
		return true
	}

	if t.cfg.LearnPeer && !t.learned {
		t.l.Debugf("peer %s answered from %s", t.peer, addr)

		t.peer = addr
		t.learned = true

		return true
	}

	return false
}

func (t *Transfer) rejectStranger(addr net.Addr) {
	b, err := types.NewError(types.ErrUnknownTransferId, "").MarshalBinary()
	if err != nil {
		return
	}

	if _, err := t.conn.WriteTo(b, addr); err != nil {
		t.l.Debugf("error while rejecting %s: %s", addr, err.Error())
	}
}

func sameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)

	if okA && okB {
		pa, pb := ua.AddrPort(), ub.AddrPort()

		return pa.Addr().Unmap() == pb.Addr().Unmap() && pa.Port() == pb.Port()
	}

	return a.String() == b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}
