package server

import (
	"net"
	"syscall"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"go.uber.org/zap"
)

type control func(network, address string, c syscall.RawConn) error

func sendErrorPacket(l *zap.SugaredLogger, conn net.PacketConn, addr net.Addr, errorPacket *types.Error) {
	b, err := errorPacket.MarshalBinary()
	if err != nil {
		l.Errorf("error while marshal error packet: %s", err.Error())

		return
	}

	if _, err := conn.WriteTo(b, addr); err != nil {
		l.Errorf("error while sending error packet to %s: %s", addr, err.Error())
	}
}
