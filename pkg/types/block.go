package types

import (
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

// EncodeData builds a DATA packet. The payload is copied.
func EncodeData(blockNum uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", utils.ErrInvalidArgument, len(payload), MaxPayloadSize)
	}

	b := make([]byte, 0, HeaderSize+len(payload))
	b = binary.BigEndian.AppendUint16(b, uint16(OpCodeDATA))
	b = binary.BigEndian.AppendUint16(b, blockNum)

	return append(b, payload...), nil
}

// DecodeData returns the block number and payload of a DATA packet. The
// payload aliases b. Its length is not checked against MaxPayloadSize.
func DecodeData(b []byte) (uint16, []byte, error) {
	if _, err := expectOpcode(b, OpCodeDATA); err != nil {
		return 0, nil, err
	}

	if len(b) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: data packet of %d bytes", utils.ErrMalformedPacket, len(b))
	}

	return binary.BigEndian.Uint16(b[2:]), b[HeaderSize:], nil
}

func EncodeAck(blockNum uint16) []byte {
	b := make([]byte, 0, HeaderSize)
	b = binary.BigEndian.AppendUint16(b, uint16(OpCodeACK))

	return binary.BigEndian.AppendUint16(b, blockNum)
}

func DecodeAck(b []byte) (uint16, error) {
	if _, err := expectOpcode(b, OpCodeACK); err != nil {
		return 0, err
	}

	if len(b) != HeaderSize {
		return 0, fmt.Errorf("%w: ack packet of %d bytes", utils.ErrMalformedPacket, len(b))
	}

	return binary.BigEndian.Uint16(b[2:]), nil
}
