//go:build linux

package rtpchan

import (
	"net"

	"golang.org/x/sys/unix"
)

// voicePriority приоритет SO_PRIORITY для интерактивного аудио
const voicePriority = 6

// setSockOptForVoice выставляет DSCP и приоритет сокета.
// Отказы ядра (контейнеры без CAP_NET_ADMIN) не считаются ошибкой.
func setSockOptForVoice(conn *net.UDPConn, dscp int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, voicePriority)
		if dscp > 0 {
			tos := dscp << 2
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
		}
	})
}
