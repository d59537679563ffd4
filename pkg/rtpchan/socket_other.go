//go:build !linux

package rtpchan

import "net"

func setSockOptForVoice(conn *net.UDPConn, dscp int) error {
	return nil
}
