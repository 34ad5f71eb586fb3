package utils

import (
	"errors"
	"fmt"
)

var (
	ErrStartingServer     = errors.New("error: starting the udp server")
	ErrInvalidArgument    = errors.New("error: invalid argument")
	ErrMalformedPacket    = errors.New("error: malformed packet")
	ErrUnrecognizedOpcode = errors.New("error: unrecognized operation code")
	ErrProtocolViolation  = errors.New("error: protocol violation")
	ErrTimeout            = errors.New("error: transfer timed out")
	ErrInvalidHostName    = errors.New("error: invalid host name")
	ErrHostUnreachable    = errors.New("error: host unreachable")
	ErrFileNotFound       = errors.New("error: file not found")
	ErrAccessViolation    = errors.New("error: access violation")
	ErrFileExists         = errors.New("error: file already exists")
	ErrDiskFull           = errors.New("error: disk full or allocation exceeded")
	ErrNotConnected       = errors.New("error: no server address set")
)

// RemoteError is returned when the peer aborts a transfer with an error packet.
type RemoteError struct {
	Code    uint16
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("error: remote error %d: %s", e.Code, e.Message)
}
