package transfer

import (
	"fmt"
	"io"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

// Receive runs the receiving role: it expects DATA 1, 2, ... strictly in
// order, writes each payload to dst and acknowledges it. The first block
// shorter than MaxPayloadSize ends the transfer. Duplicates are violations.
func (t *Transfer) Receive(dst io.Writer) (int64, error) {
	t.state = StateExchanging

	var (
		total    int64
		expected uint16 = 1
	)

	for {
		op, pkt, err := t.next()
		if err != nil {
			return total, t.fail(err)
		}

		if op != types.OpCodeDATA {
			t.Abort(types.ErrIllegalTftpOp, "")

			return total, t.fail(fmt.Errorf("%w: expected DATA block# %d, got %s", utils.ErrProtocolViolation, expected, op))
		}

		blockNum, payload, err := types.DecodeData(pkt)
		if err != nil {
			t.Abort(types.ErrIllegalTftpOp, "")

			return total, t.fail(err)
		}

		if blockNum != expected {
			t.Abort(types.ErrIllegalTftpOp, "")

			return total, t.fail(fmt.Errorf("%w: data block# %d != expected block# %d", utils.ErrProtocolViolation, blockNum, expected))
		}

		if len(payload) > types.MaxPayloadSize {
			t.Abort(types.ErrIllegalTftpOp, "")

			return total, t.fail(fmt.Errorf("%w: block# %d carries more than %d bytes", utils.ErrProtocolViolation, blockNum, types.MaxPayloadSize))
		}

		if _, err := dst.Write(payload); err != nil {
			t.Abort(types.ErrDiskFull, "")

			return total, t.fail(fmt.Errorf("%w: error while writing block# %d: %w", utils.ErrDiskFull, blockNum, err))
		}

		total += int64(len(payload))

		if err := t.write(types.EncodeAck(blockNum)); err != nil {
			return total, t.fail(err)
		}

		if t.cfg.Trace {
			t.l.Debugf("received block#=%d, received #bytes=%d", blockNum, len(payload))
		}

		if len(payload) < types.MaxPayloadSize {
			t.state = StateDone
			t.l.Debugf("received %d blocks, received %d bytes from %s", blockNum, total, t.peer)

			return total, nil
		}

		expected++
	}
}
