package types

import (
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

// PeekOpcode reads the opcode from the first two bytes of a datagram without
// decoding the rest of it.
func PeekOpcode(b []byte) (OpCode, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: datagram of %d bytes has no opcode", utils.ErrMalformedPacket, len(b))
	}

	op := OpCode(binary.BigEndian.Uint16(b))
	if op < OpCodeRRQ || op > OpCodeError {
		return op, fmt.Errorf("%w: %d", utils.ErrUnrecognizedOpcode, op)
	}

	return op, nil
}

func expectOpcode(b []byte, want ...OpCode) (OpCode, error) {
	op, err := PeekOpcode(b)
	if err != nil {
		return op, err
	}

	for _, w := range want {
		if op == w {
			return op, nil
		}
	}

	return op, fmt.Errorf("%w: unexpected opcode %s", utils.ErrMalformedPacket, op)
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}

	return true
}
