package transfer

import (
	"errors"
	"fmt"
	"io"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

// chunker splits a source into blocks of at most MaxPayloadSize bytes, read
// lazily. A source whose length is a multiple of the block size, including
// an empty one, ends with a zero length block.
type chunker struct {
	src  io.Reader
	buf  []byte
	done bool
}

func newChunker(src io.Reader) *chunker {
	return &chunker{src: src, buf: make([]byte, types.MaxPayloadSize)}
}

// next returns the next block, which is only valid until the following call.
func (c *chunker) next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(c.src, c.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	if n < types.MaxPayloadSize {
		c.done = true
	}

	return c.buf[:n], nil
}

// Send runs the sending role: DATA 1, 2, ... each acknowledged before the
// next one goes out. It returns the number of payload bytes acknowledged.
func (t *Transfer) Send(src io.Reader) (int64, error) {
	t.state = StateExchanging

	if t.wrq {
		if err := t.awaitAck(0); err != nil {
			return 0, t.fail(err)
		}

		t.wrq = false
	}

	var (
		total    int64
		blockNum uint16 = 1
	)

	chunks := newChunker(src)

	for {
		block, err := chunks.next()
		if err != nil {
			t.Abort(types.ErrNotDefined, "")

			return total, t.fail(fmt.Errorf("error while reading block# %d from source: %w", blockNum, err))
		}

		pkt, err := types.EncodeData(blockNum, block)
		if err != nil {
			return total, t.fail(err)
		}

		if err := t.write(pkt); err != nil {
			return total, t.fail(err)
		}

		if err := t.awaitAck(blockNum); err != nil {
			return total, t.fail(err)
		}

		total += int64(len(block))

		if t.cfg.Trace {
			t.l.Debugf("sent block#=%d, sent #bytes=%d", blockNum, len(block))
		}

		if len(block) < types.MaxPayloadSize {
			t.state = StateDone
			t.l.Debugf("sent %d blocks, sent %d bytes to %s", blockNum, total, t.peer)

			return total, nil
		}

		// wraps past 65535 back to 0
		blockNum++
	}
}

func (t *Transfer) awaitAck(blockNum uint16) error {
	op, pkt, err := t.next()
	if err != nil {
		return err
	}

	if op != types.OpCodeACK {
		t.Abort(types.ErrIllegalTftpOp, "")

		return fmt.Errorf("%w: expected ACK of block# %d, got %s", utils.ErrProtocolViolation, blockNum, op)
	}

	got, err := types.DecodeAck(pkt)
	if err != nil {
		t.Abort(types.ErrIllegalTftpOp, "")

		return err
	}

	if got != blockNum {
		t.Abort(types.ErrIllegalTftpOp, "")

		return fmt.Errorf("%w: ack block# %d != expected block# %d", utils.ErrProtocolViolation, got, blockNum)
	}

	return nil
}
