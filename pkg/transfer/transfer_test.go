package transfer

import (
	"bytes"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const peerWait = 2 * time.Second

func listen(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readPacket(conn *net.UDPConn, wait time.Duration) ([]byte, net.Addr, error) {
	buf := make([]byte, types.DatagramSize+1)

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, nil, err
	}

	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}

	return buf[:n], addr, nil
}

func newTransfer(t *testing.T, local, peer *net.UDPConn, cfg Config) *Transfer {
	t.Helper()

	if cfg.Timeout == 0 {
		cfg.Timeout = peerWait
	}

	return New(local, peer.LocalAddr(), zaptest.NewLogger(t).Sugar(), cfg)
}

type block struct {
	num     uint16
	payload []byte
}

// ackAll plays a receiving peer that acknowledges every DATA packet until a
// short one arrives.
func ackAll(conn *net.UDPConn) ([]block, error) {
	var blocks []block

	for {
		pkt, addr, err := readPacket(conn, peerWait)
		if err != nil {
			return blocks, err
		}

		num, payload, err := types.DecodeData(pkt)
		if err != nil {
			return blocks, err
		}

		blocks = append(blocks, block{num: num, payload: append([]byte{}, payload...)})

		if _, err := conn.WriteTo(types.EncodeAck(num), addr); err != nil {
			return blocks, err
		}

		if len(payload) < types.MaxPayloadSize {
			return blocks, nil
		}
	}
}

// sendAll plays a sending peer that pushes data in lockstep to addr.
func sendAll(conn *net.UDPConn, addr net.Addr, data []byte) error {
	for num := uint16(1); ; num++ {
		n := min(len(data), types.MaxPayloadSize)

		pkt, err := types.EncodeData(num, data[:n])
		if err != nil {
			return err
		}

		if _, err := conn.WriteTo(pkt, addr); err != nil {
			return err
		}

		ack, _, err := readPacket(conn, peerWait)
		if err != nil {
			return err
		}

		got, err := types.DecodeAck(ack)
		if err != nil {
			return err
		}

		if got != num {
			return errors.New("unexpected ack")
		}

		data = data[n:]

		if n < types.MaxPayloadSize {
			return nil
		}
	}
}

func TestSendExactMultipleEndsWithEmptyBlock(t *testing.T) {
	local, peer := listen(t), listen(t)
	src := bytes.Repeat([]byte("0123456789abcdef"), 64)

	res := make(chan []block, 1)
	go func() {
		blocks, err := ackAll(peer)
		assert.NoError(t, err)
		res <- blocks
	}()

	tr := newTransfer(t, local, peer, Config{})

	n, err := tr.Send(bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
	assert.Equal(t, StateDone, tr.State())

	blocks := <-res
	require.Len(t, blocks, 3)
	assert.Equal(t, uint16(1), blocks[0].num)
	assert.Len(t, blocks[0].payload, 512)
	assert.Equal(t, uint16(2), blocks[1].num)
	assert.Len(t, blocks[1].payload, 512)
	assert.Equal(t, uint16(3), blocks[2].num)
	assert.Empty(t, blocks[2].payload)
	assert.Equal(t, src, append(blocks[0].payload, blocks[1].payload...))
}

func TestSendEmptySource(t *testing.T) {
	local, peer := listen(t), listen(t)

	res := make(chan []block, 1)
	go func() {
		blocks, err := ackAll(peer)
		assert.NoError(t, err)
		res <- blocks
	}()

	n, err := newTransfer(t, local, peer, Config{}).Send(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, n)

	blocks := <-res
	require.Len(t, blocks, 1)
	assert.Equal(t, uint16(1), blocks[0].num)
	assert.Empty(t, blocks[0].payload)
}

func TestSendAfterWriteRequestWaitsForAckZero(t *testing.T) {
	local, peer := listen(t), listen(t)
	src := bytes.Repeat([]byte{0xab}, 600)

	res := make(chan []block, 1)
	go func() {
		req, addr, err := readPacket(peer, peerWait)
		if !assert.NoError(t, err) {
			res <- nil
			return
		}

		op, filename, _, err := types.DecodeRequest(req)
		assert.NoError(t, err)
		assert.Equal(t, types.OpCodeWRQ, op)
		assert.Equal(t, "upload.bin", filename)

		_, err = peer.WriteTo(types.EncodeAck(0), addr)
		assert.NoError(t, err)

		blocks, err := ackAll(peer)
		assert.NoError(t, err)
		res <- blocks
	}()

	tr := newTransfer(t, local, peer, Config{})
	require.NoError(t, tr.Request(types.OpCodeWRQ, "upload.bin"))

	n, err := tr.Send(bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, int64(600), n)

	blocks := <-res
	require.Len(t, blocks, 2)
	assert.Len(t, blocks[0].payload, 512)
	assert.Len(t, blocks[1].payload, 88)
	assert.Equal(t, src, append(blocks[0].payload, blocks[1].payload...))
}

func TestSendWrongAckIsProtocolViolation(t *testing.T) {
	local, peer := listen(t), listen(t)

	done := make(chan []byte, 1)
	go func() {
		_, addr, err := readPacket(peer, peerWait)
		assert.NoError(t, err)

		_, err = peer.WriteTo(types.EncodeAck(7), addr)
		assert.NoError(t, err)

		reply, _, err := readPacket(peer, peerWait)
		assert.NoError(t, err)
		done <- reply
	}()

	tr := newTransfer(t, local, peer, Config{})

	_, err := tr.Send(bytes.NewReader(make([]byte, 2000)))
	assert.ErrorIs(t, err, utils.ErrProtocolViolation)
	assert.Equal(t, StateFailed, tr.State())

	code, _, err := types.DecodeError(<-done)
	require.NoError(t, err)
	assert.Equal(t, types.ErrIllegalTftpOp, code)
}

func TestSendRemoteError(t *testing.T) {
	local, peer := listen(t), listen(t)

	go func() {
		_, addr, err := readPacket(peer, peerWait)
		assert.NoError(t, err)

		pkt, _ := types.EncodeError(types.ErrDiskFull, "no space")
		_, err = peer.WriteTo(pkt, addr)
		assert.NoError(t, err)
	}()

	_, err := newTransfer(t, local, peer, Config{}).Send(bytes.NewReader(make([]byte, 2000)))

	var remote *utils.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, uint16(types.ErrDiskFull), remote.Code)
	assert.Equal(t, "no space", remote.Message)
}

func TestSendUnknownOpcodeIsProtocolViolation(t *testing.T) {
	local, peer := listen(t), listen(t)

	go func() {
		_, addr, err := readPacket(peer, peerWait)
		assert.NoError(t, err)

		_, err = peer.WriteTo([]byte{0x00, 0x09, 0x00, 0x01}, addr)
		assert.NoError(t, err)
	}()

	_, err := newTransfer(t, local, peer, Config{}).Send(bytes.NewReader([]byte("short")))
	assert.ErrorIs(t, err, utils.ErrProtocolViolation)
	assert.ErrorIs(t, err, utils.ErrUnrecognizedOpcode)
}

func TestSendTimeoutStopsSending(t *testing.T) {
	local, peer := listen(t), listen(t)

	tr := newTransfer(t, local, peer, Config{Timeout: 100 * time.Millisecond})

	_, err := tr.Send(bytes.NewReader(make([]byte, 1000)))
	assert.ErrorIs(t, err, utils.ErrTimeout)
	assert.Equal(t, StateFailed, tr.State())

	pkt, _, err := readPacket(peer, 200*time.Millisecond)
	require.NoError(t, err)

	num, _, err := types.DecodeData(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), num)

	_, _, err = readPacket(peer, 300*time.Millisecond)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestSendRetriesLastBlock(t *testing.T) {
	local, peer := listen(t), listen(t)

	res := make(chan []block, 1)
	go func() {
		// drop the first copy of block 1
		_, _, err := readPacket(peer, peerWait)
		assert.NoError(t, err)

		blocks, err := ackAll(peer)
		assert.NoError(t, err)
		res <- blocks
	}()

	n, err := newTransfer(t, local, peer, Config{Timeout: 150 * time.Millisecond, Retries: 2}).
		Send(bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	blocks := <-res
	require.Len(t, blocks, 1)
	assert.Equal(t, uint16(1), blocks[0].num)
	assert.Equal(t, []byte("hello"), blocks[0].payload)
}

func TestReceive(t *testing.T) {
	local, peer := listen(t), listen(t)
	src := bytes.Repeat([]byte("lockstep"), 200)

	done := make(chan error, 1)
	go func() {
		done <- sendAll(peer, local.LocalAddr(), src)
	}()

	var sink bytes.Buffer

	tr := newTransfer(t, local, peer, Config{Trace: true})

	n, err := tr.Receive(&sink)
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)
	assert.Equal(t, src, sink.Bytes())
	assert.Equal(t, StateDone, tr.State())
	require.NoError(t, <-done)
}

func TestBlockNumberWrapsAround(t *testing.T) {
	sender, receiver := listen(t), listen(t)

	// 65537 full blocks take the block number past 65535 back to 0 and 1
	src := make([]byte, types.MaxPayloadSize*65537+10)
	for i := range src {
		src[i] = byte(i % 251)
	}

	type result struct {
		n   int64
		err error
	}

	res := make(chan result, 1)
	go func() {
		n, err := newTransfer(t, sender, receiver, Config{}).Send(bytes.NewReader(src))
		res <- result{n: n, err: err}
	}()

	var sink bytes.Buffer

	tr := newTransfer(t, receiver, sender, Config{})

	n, err := tr.Receive(&sink)
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)
	assert.True(t, bytes.Equal(src, sink.Bytes()))
	assert.Equal(t, StateDone, tr.State())

	sent := <-res
	require.NoError(t, sent.err)
	assert.Equal(t, int64(len(src)), sent.n)
}

func TestReceiveOutOfSequenceWritesNothing(t *testing.T) {
	local, peer := listen(t), listen(t)

	done := make(chan []byte, 1)
	go func() {
		pkt, _ := types.EncodeData(2, []byte("too early"))
		_, err := peer.WriteTo(pkt, local.LocalAddr())
		assert.NoError(t, err)

		reply, _, err := readPacket(peer, peerWait)
		assert.NoError(t, err)
		done <- reply
	}()

	var sink bytes.Buffer

	_, err := newTransfer(t, local, peer, Config{}).Receive(&sink)
	assert.ErrorIs(t, err, utils.ErrProtocolViolation)
	assert.Zero(t, sink.Len())

	op, err := types.PeekOpcode(<-done)
	require.NoError(t, err)
	assert.Equal(t, types.OpCodeError, op)
}

func TestReceiveDuplicateBlockIsProtocolViolation(t *testing.T) {
	local, peer := listen(t), listen(t)
	full := bytes.Repeat([]byte{1}, types.MaxPayloadSize)

	go func() {
		pkt, _ := types.EncodeData(1, full)

		_, err := peer.WriteTo(pkt, local.LocalAddr())
		assert.NoError(t, err)

		_, _, err = readPacket(peer, peerWait)
		assert.NoError(t, err)

		_, err = peer.WriteTo(pkt, local.LocalAddr())
		assert.NoError(t, err)
	}()

	var sink bytes.Buffer

	n, err := newTransfer(t, local, peer, Config{}).Receive(&sink)
	assert.ErrorIs(t, err, utils.ErrProtocolViolation)
	assert.Equal(t, int64(types.MaxPayloadSize), n)
	assert.Equal(t, full, sink.Bytes())
}

func TestReceiveTimeout(t *testing.T) {
	local, peer := listen(t), listen(t)

	var sink bytes.Buffer

	start := time.Now()

	_, err := newTransfer(t, local, peer, Config{Timeout: 100 * time.Millisecond}).Receive(&sink)
	assert.ErrorIs(t, err, utils.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	_, _, err = readPacket(peer, 200*time.Millisecond)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestReceiveLearnsPeerAndRejectsStrangers(t *testing.T) {
	local, listener, worker, stranger := listen(t), listen(t), listen(t), listen(t)
	first := bytes.Repeat([]byte{'a'}, types.MaxPayloadSize)
	second := []byte("answered from an ephemeral port")

	strangerReply := make(chan []byte, 1)

	go func() {
		defer close(strangerReply)

		req, addr, err := readPacket(listener, peerWait)
		if !assert.NoError(t, err) {
			return
		}

		_, filename, _, err := types.DecodeRequest(req)
		assert.NoError(t, err)
		assert.Equal(t, "notes.txt", filename)

		pkt, _ := types.EncodeData(1, first)
		_, err = worker.WriteTo(pkt, addr)
		assert.NoError(t, err)

		_, _, err = readPacket(worker, peerWait)
		assert.NoError(t, err)

		// the peer is fixed now, a third party must be turned away
		pkt, _ = types.EncodeData(2, []byte("intruder"))
		_, err = stranger.WriteTo(pkt, addr)
		assert.NoError(t, err)

		reply, _, err := readPacket(stranger, peerWait)
		assert.NoError(t, err)
		strangerReply <- reply

		pkt, _ = types.EncodeData(2, second)
		_, err = worker.WriteTo(pkt, addr)
		assert.NoError(t, err)
	}()

	tr := newTransfer(t, local, listener, Config{LearnPeer: true})
	require.NoError(t, tr.Request(types.OpCodeRRQ, "notes.txt"))

	var sink bytes.Buffer

	n, err := tr.Receive(&sink)
	require.NoError(t, err)
	assert.Equal(t, int64(len(first)+len(second)), n)
	assert.Equal(t, append(first, second...), sink.Bytes())
	assert.True(t, sameAddr(worker.LocalAddr(), tr.Peer()))

	code, _, err := types.DecodeError(<-strangerReply)
	require.NoError(t, err)
	assert.Equal(t, types.ErrUnknownTransferId, code)
}

func TestChunker(t *testing.T) {
	cases := map[int][]int{
		0:    {0},
		1:    {1},
		511:  {511},
		512:  {512, 0},
		513:  {512, 1},
		1024: {512, 512, 0},
	}

	for size, want := range cases {
		c := newChunker(bytes.NewReader(make([]byte, size)))

		var got []int

		for {
			b, err := c.next()
			if err != nil {
				break
			}

			got = append(got, len(b))
		}

		assert.Equal(t, want, got, "source of %d bytes", size)
	}
}
