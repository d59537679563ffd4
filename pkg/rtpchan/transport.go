package rtpchan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Ограничения пакетов по RFC 3550
const (
	MinRTPPacketSize   = 12
	MaxRTPPacketSize   = 1500
	ExpectedRTPVersion = 2

	readPollInterval = 100 * time.Millisecond
)

// errReadTimeout истек интервал опроса сокета, пакета не было
var errReadTimeout = errors.New("rtpchan: нет пакета")

// udpTransport RTP поверх UDP с симметричной привязкой к адресу пира
type udpTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	buffer     []byte
	mutex      sync.RWMutex
	active     bool
}

func newUDPTransport(localAddr, remoteAddr string, dscp int) (*udpTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}
	if err := setSockOptForVoice(conn, dscp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	t := &udpTransport{conn: conn, buffer: make([]byte, MaxRTPPacketSize), active: true}
	if remoteAddr != "" {
		raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
		}
		t.remoteAddr = raddr
	}
	return t, nil
}

func (t *udpTransport) send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active, conn, remote := t.active, t.conn, t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return net.ErrClosed
	}
	if remote == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}
	if err := validatePacketSize(len(data)); err != nil {
		return err
	}
	if _, err := conn.WriteToUDP(data, remote); err != nil {
		return fmt.Errorf("UDP write: %w", err)
	}
	return nil
}

// receive ждет один пакет не дольше readPollInterval.
// Вызывается только из горутины чтения канала.
func (t *udpTransport) receive(ctx context.Context) (*rtp.Packet, error) {
	t.mutex.RLock()
	active, conn := t.active, t.conn
	t.mutex.RUnlock()
	if !active {
		return nil, net.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
	n, addr, err := conn.ReadFromUDP(t.buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errReadTimeout
		}
		return nil, fmt.Errorf("UDP read: %w", err)
	}
	if err := validatePacketSize(n); err != nil {
		return nil, err
	}

	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(append([]byte(nil), t.buffer[:n]...)); err != nil {
		return nil, fmt.Errorf("ошибка демаршалинга RTP пакета: %w", err)
	}
	if packet.Version != ExpectedRTPVersion {
		return nil, fmt.Errorf("неподдерживаемая версия RTP: %d", packet.Version)
	}
	return packet, nil
}

func (t *udpTransport) localAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *udpTransport) setRemoteAddr(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = raddr
	return nil
}

func (t *udpTransport) close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	return t.conn.Close()
}

func validatePacketSize(size int) error {
	if size < MinRTPPacketSize {
		return fmt.Errorf("пакет слишком мал: %d байт (минимум %d)", size, MinRTPPacketSize)
	}
	if size > MaxRTPPacketSize {
		return fmt.Errorf("пакет слишком велик: %d байт (максимум %d)", size, MaxRTPPacketSize)
	}
	return nil
}
