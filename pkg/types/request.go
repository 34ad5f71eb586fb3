package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

type Request struct {
	Filename string
	Mode     string
	Opcode   OpCode
}

func (r *Request) MarshalBinary() ([]byte, error) {
	return EncodeRequest(r.Opcode, r.Filename, r.Mode)
}

func (r *Request) UnmarshalBinary(data []byte) error {
	op, filename, mode, err := DecodeRequest(data)
	if err != nil {
		return err
	}

	r.Opcode, r.Filename, r.Mode = op, filename, mode

	return nil
}

// EncodeRequest builds an RRQ or WRQ. An empty filename is allowed and is
// interpreted by servers as a directory listing request.
func EncodeRequest(op OpCode, filename, mode string) ([]byte, error) {
	if op != OpCodeRRQ && op != OpCodeWRQ {
		return nil, fmt.Errorf("%w: %s is not a request opcode", utils.ErrInvalidArgument, op)
	}

	if !isPrintableASCII(filename) {
		return nil, fmt.Errorf("%w: filename %q is not printable ascii", utils.ErrInvalidArgument, filename)
	}

	if mode != ModeOctet {
		return nil, fmt.Errorf("%w: unsupported mode %q", utils.ErrInvalidArgument, mode)
	}

	b := make([]byte, 0, 2+len(filename)+1+len(mode)+1)
	b = binary.BigEndian.AppendUint16(b, uint16(op))
	b = append(b, filename...)
	b = append(b, 0)
	b = append(b, mode...)
	b = append(b, 0)

	return b, nil
}

// DecodeRequest splits an RRQ/WRQ into its fields. The filename ends at the
// first zero byte after the opcode, the mode at the final byte of the packet.
func DecodeRequest(b []byte) (OpCode, string, string, error) {
	op, err := expectOpcode(b, OpCodeRRQ, OpCodeWRQ)
	if err != nil {
		return op, "", "", err
	}

	last := len(b) - 1
	if b[last] != 0 {
		return op, "", "", fmt.Errorf("%w: mode is not zero terminated", utils.ErrMalformedPacket)
	}

	end := bytes.IndexByte(b[2:], 0)
	if end < 0 || 2+end >= last {
		return op, "", "", fmt.Errorf("%w: filename is not zero terminated", utils.ErrMalformedPacket)
	}

	end += 2

	filename := string(b[2:end])
	if !isPrintableASCII(filename) {
		return op, "", "", fmt.Errorf("%w: filename is not printable ascii", utils.ErrMalformedPacket)
	}

	return op, filename, string(b[end+1 : last]), nil
}
