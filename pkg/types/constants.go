package types

import "time"

type OpCode uint16

const (
	OpCodeRRQ OpCode = iota + 1
	OpCodeWRQ
	OpCodeDATA
	OpCodeACK
	OpCodeError
)

func (o OpCode) String() string {
	switch o {
	case OpCodeRRQ:
		return "RRQ"
	case OpCodeWRQ:
		return "WRQ"
	case OpCodeDATA:
		return "DATA"
	case OpCodeACK:
		return "ACK"
	case OpCodeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type ErrCode uint16

const (
	ErrNotDefined ErrCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalTftpOp
	ErrUnknownTransferId
	ErrFileAlreadyExists
	ErrNoSuchUser
)

var errMessages = map[ErrCode]string{
	ErrNotDefined:        "Undefined error.",
	ErrFileNotFound:      "File not found.",
	ErrAccessViolation:   "Access violation.",
	ErrDiskFull:          "Disk full or allocation exceeded.",
	ErrIllegalTftpOp:     "Illegal TFTP operation.",
	ErrUnknownTransferId: "Unknown transfer ID.",
	ErrFileAlreadyExists: "File already exists.",
	ErrNoSuchUser:        "No such user.",
}

// Message returns the canonical message for a standard error code.
func (c ErrCode) Message() string {
	if m, ok := errMessages[c]; ok {
		return m
	}

	return errMessages[ErrNotDefined]
}

const (
	ModeOctet      = "octet"
	MaxPayloadSize = 512
	HeaderSize     = 4
	DatagramSize   = HeaderSize + MaxPayloadSize
	// MaxRequestSize is the largest datagram a request can arrive in.
	MaxRequestSize = 65535
)

const (
	DefaultPort    uint16 = 69
	DefaultTimeout        = 30 * time.Second
)
