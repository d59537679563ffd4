// Package rtpchan реализует channel.Channel поверх RTP/UDP с кодеками G.711.
//
// Канал знает один согласованный payload type (PCMU или PCMA) и умеет
// отдавать и принимать аудио как в нативном кодеке, так и в линейном PCM.
// Пакеты telephone-event превращаются в DTMF кадры, остальные - в
// управляющие.
package rtpchan

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/channel"
)

// Payload types
const (
	PayloadTypePCMU           uint8 = 0
	PayloadTypePCMA           uint8 = 8
	PayloadTypeTelephoneEvent uint8 = 101
)

// DefaultPtime интервал пакетизации по умолчанию
const DefaultPtime = 20 * time.Millisecond

// FormatForPayloadType возвращает формат канала для payload type G.711
func FormatForPayloadType(pt uint8) (channel.Format, error) {
	switch pt {
	case PayloadTypePCMU:
		return channel.FormatULAW, nil
	case PayloadTypePCMA:
		return channel.FormatALAW, nil
	default:
		return channel.FormatUnknown, fmt.Errorf("rtpchan: payload type %d не поддерживается", pt)
	}
}

// Config параметры RTP канала
type Config struct {
	Name        string
	LocalAddr   string // host:port, порт 0 - выбирается системой
	RemoteAddr  string // Пусто - адрес берется из первого входящего пакета
	PayloadType uint8
	Ptime       time.Duration
	DSCP        int
	// OnAnswer вызывается из Answer до перехода в StateUp
	// (например, отправка 200 OK на INVITE)
	OnAnswer func(ctx context.Context) error
}

// Channel RTP канал вызова
type Channel struct {
	config    Config
	native    channel.Format
	transport *udpTransport
	logger    *zap.Logger

	mu       sync.Mutex
	state    channel.State
	readFmt  channel.Format
	writeFmt channel.Format
	vars     map[string]string

	// Состояние отправителя, доступ только из Write
	ssrc      uint32
	seq       uint16
	timestamp uint32
	sentFirst bool

	hangup     chan struct{}
	hangupOnce sync.Once
}

// New открывает UDP сокет и создает канал в состоянии StateRinging
func New(config Config, logger *zap.Logger) (*Channel, error) {
	native, err := FormatForPayloadType(config.PayloadType)
	if err != nil {
		return nil, err
	}
	if config.Ptime == 0 {
		config.Ptime = DefaultPtime
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport, err := newUDPTransport(config.LocalAddr, config.RemoteAddr, config.DSCP)
	if err != nil {
		return nil, fmt.Errorf("rtpchan: %w", err)
	}
	if config.Name == "" {
		config.Name = "RTP/" + transport.localAddr().String()
	}

	c := &Channel{
		config:    config,
		native:    native,
		transport: transport,
		logger:    logger.With(zap.String("channel", config.Name)),
		state:     channel.StateRinging,
		readFmt:   native,
		writeFmt:  native,
		vars:      make(map[string]string),
		ssrc:      randomUint32(),
		seq:       uint16(randomUint32()),
		timestamp: randomUint32(),
		hangup:    make(chan struct{}),
	}
	return c, nil
}

// LocalAddr адрес RTP сокета
func (c *Channel) LocalAddr() *net.UDPAddr { return c.transport.localAddr() }

// NativeFormat кодек, согласованный для канала
func (c *Channel) NativeFormat() channel.Format { return c.native }

// Ptime интервал пакетизации канала
func (c *Channel) Ptime() time.Duration { return c.config.Ptime }

// SetRemoteAddr задает адрес пира (например, из SDP ответа)
func (c *Channel) SetRemoteAddr(addr string) error { return c.transport.setRemoteAddr(addr) }

// Name реализует channel.Channel
func (c *Channel) Name() string { return c.config.Name }

// State реализует channel.Channel
func (c *Channel) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Answer реализует channel.Channel
func (c *Channel) Answer(ctx context.Context) error {
	select {
	case <-c.hangup:
		return channel.ErrHangup
	default:
	}
	if c.config.OnAnswer != nil {
		if err := c.config.OnAnswer(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.state = channel.StateUp
	c.mu.Unlock()
	return nil
}

// Hangup завершает поток: ожидающий и последующие Read возвращают
// channel.ErrHangup. Безопасен для вызова из любой горутины.
func (c *Channel) Hangup() {
	c.hangupOnce.Do(func() {
		close(c.hangup)
		c.mu.Lock()
		c.state = channel.StateDown
		c.mu.Unlock()
		c.logger.Debug("канал положен")
	})
}

// Close кладет трубку и закрывает сокет
func (c *Channel) Close() error {
	c.Hangup()
	return c.transport.close()
}

func (c *Channel) ReadFormat() channel.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFmt
}

func (c *Channel) WriteFormat() channel.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFmt
}

// SetReadFormat принимает нативный кодек или линейный PCM
func (c *Channel) SetReadFormat(f channel.Format) error {
	if err := c.checkFormat(f); err != nil {
		return err
	}
	c.mu.Lock()
	c.readFmt = f
	c.mu.Unlock()
	return nil
}

// SetWriteFormat принимает нативный кодек или линейный PCM
func (c *Channel) SetWriteFormat(f channel.Format) error {
	if err := c.checkFormat(f); err != nil {
		return err
	}
	c.mu.Lock()
	c.writeFmt = f
	c.mu.Unlock()
	return nil
}

func (c *Channel) checkFormat(f channel.Format) error {
	if f != c.native && f != channel.FormatSLINEAR {
		return fmt.Errorf("rtpchan: нет преобразования %s <-> %s", c.native, f)
	}
	return nil
}

// Read ждет следующий RTP пакет. Ошибки отдельных пакетов пропускаются.
func (c *Channel) Read(ctx context.Context) (*channel.Frame, error) {
	for {
		select {
		case <-c.hangup:
			return nil, channel.ErrHangup
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		packet, err := c.transport.receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errReadTimeout):
			continue
		case errors.Is(err, net.ErrClosed):
			return nil, channel.ErrHangup
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			c.logger.Debug("пакет отброшен", zap.Error(err))
			continue
		}

		frame, err := c.toFrame(packet)
		if err != nil {
			c.logger.Debug("пакет отброшен", zap.Error(err))
			continue
		}
		return frame, nil
	}
}

func (c *Channel) toFrame(packet *rtp.Packet) (*channel.Frame, error) {
	switch packet.PayloadType {
	case c.config.PayloadType:
		if c.ReadFormat() == channel.FormatSLINEAR {
			samples, err := c.native.Decode(packet.Payload)
			if err != nil {
				return nil, err
			}
			return channel.NewVoiceFrame(samples), nil
		}
		return &channel.Frame{Type: channel.FrameVoice, Format: c.native, Payload: packet.Payload}, nil
	case PayloadTypeTelephoneEvent:
		return &channel.Frame{Type: channel.FrameDTMF, Payload: packet.Payload}, nil
	default:
		return &channel.Frame{Type: channel.FrameControl, Payload: packet.Payload}, nil
	}
}

// Write отправляет аудио кадр одним RTP пакетом. Не голосовые кадры
// игнорируются.
func (c *Channel) Write(f *channel.Frame) error {
	if f == nil || f.Type != channel.FrameVoice {
		return nil
	}
	select {
	case <-c.hangup:
		return channel.ErrHangup
	default:
	}

	var (
		payload []byte
		err     error
	)
	switch f.Format {
	case channel.FormatSLINEAR:
		payload, err = c.native.Encode(f.Samples)
	case c.native:
		payload = f.Payload
	default:
		err = fmt.Errorf("rtpchan: кадр в формате %s не может быть отправлен в %s", f.Format, c.native)
	}
	if err != nil {
		return err
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        ExpectedRTPVersion,
			Marker:         !c.sentFirst,
			PayloadType:    c.config.PayloadType,
			SequenceNumber: c.seq,
			Timestamp:      c.timestamp,
			SSRC:           c.ssrc,
		},
		Payload: payload,
	}
	if err := c.transport.send(packet); err != nil {
		return fmt.Errorf("rtpchan: %w", err)
	}

	c.sentFirst = true
	c.seq++
	c.timestamp += uint32(f.SampleCount())
	return nil
}

func (c *Channel) Var(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars[name]
}

func (c *Channel) SetVar(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Vars возвращает копию переменных канала
func (c *Channel) Vars() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

func randomUint32() uint32 {
	var v uint32
	_ = binary.Read(rand.Reader, binary.BigEndian, &v)
	return v
}

var _ channel.Channel = (*Channel)(nil)
