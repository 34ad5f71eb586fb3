package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

type Error struct {
	ErrMsg    string
	ErrorCode ErrCode
}

// NewError returns an error packet carrying the canonical message for code,
// or msg when it is not empty.
func NewError(code ErrCode, msg string) *Error {
	if msg == "" {
		msg = code.Message()
	}

	return &Error{ErrorCode: code, ErrMsg: msg}
}

func (e *Error) MarshalBinary() ([]byte, error) {
	return EncodeError(e.ErrorCode, e.ErrMsg)
}

func (e *Error) UnmarshalBinary(data []byte) error {
	code, msg, err := DecodeError(data)
	if err != nil {
		return err
	}

	e.ErrorCode, e.ErrMsg = code, msg

	return nil
}

func EncodeError(code ErrCode, msg string) ([]byte, error) {
	for i := 0; i < len(msg); i++ {
		if msg[i] == 0 || msg[i] > 0x7e {
			return nil, fmt.Errorf("%w: error message %q is not ascii text", utils.ErrInvalidArgument, msg)
		}
	}

	b := make([]byte, 0, HeaderSize+len(msg)+1)
	b = binary.BigEndian.AppendUint16(b, uint16(OpCodeError))
	b = binary.BigEndian.AppendUint16(b, uint16(code))
	b = append(b, msg...)

	return append(b, 0), nil
}

// DecodeError accepts a message without the trailing zero byte, as some
// implementations omit it.
func DecodeError(b []byte) (ErrCode, string, error) {
	if _, err := expectOpcode(b, OpCodeError); err != nil {
		return 0, "", err
	}

	if len(b) < HeaderSize {
		return 0, "", fmt.Errorf("%w: error packet of %d bytes", utils.ErrMalformedPacket, len(b))
	}

	msg := b[HeaderSize:]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}

	return ErrCode(binary.BigEndian.Uint16(b[2:])), string(msg), nil
}
