// Package channeltest предоставляет in-memory канал для тестов сессии.
package channeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/faxbridge/pkg/channel"
)

// Channel скриптуемый канал: входящие кадры берутся из очереди, исходящие
// сохраняются. Когда очередь пуста, Read возвращает ReadErr (по умолчанию
// channel.ErrHangup).
type Channel struct {
	mu sync.Mutex

	name     string
	state    channel.State
	readFmt  channel.Format
	writeFmt channel.Format
	vars     map[string]string

	inbound []*channel.Frame
	written []*channel.Frame
	log     []string

	// Хуки отказов
	AnswerErr    error
	ReadErr      error
	SetReadErr   func(f channel.Format) error
	SetWriteErr  func(f channel.Format) error
	WriteErr     error
	WriteErrFrom int // номер записи (с 1), начиная с которой Write возвращает WriteErr
}

// New создает канал в состоянии Up с указанным нативным форматом
func New(name string, native channel.Format) *Channel {
	return &Channel{
		name:     name,
		state:    channel.StateUp,
		readFmt:  native,
		writeFmt: native,
		vars:     make(map[string]string),
	}
}

// SetState задает состояние канала
func (c *Channel) SetState(s channel.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Push добавляет входящие кадры в очередь
func (c *Channel) Push(frames ...*channel.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, frames...)
}

// PushVoice добавляет n линейных аудио кадров по size отсчетов
func (c *Channel) PushVoice(n, size int) {
	for i := 0; i < n; i++ {
		c.Push(channel.NewVoiceFrame(make([]int16, size)))
	}
}

// Written возвращает отправленные в канал кадры
func (c *Channel) Written() []*channel.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*channel.Frame(nil), c.written...)
}

// Mutations возвращает журнал изменений форматов вида "read=slin"
func (c *Channel) Mutations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
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

func (c *Channel) Name() string { return c.name }

func (c *Channel) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Answer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "answer")
	if c.AnswerErr != nil {
		return c.AnswerErr
	}
	c.state = channel.StateUp
	return nil
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

func (c *Channel) SetReadFormat(f channel.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "read="+f.String())
	if c.SetReadErr != nil {
		if err := c.SetReadErr(f); err != nil {
			return err
		}
	}
	c.readFmt = f
	return nil
}

func (c *Channel) SetWriteFormat(f channel.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "write="+f.String())
	if c.SetWriteErr != nil {
		if err := c.SetWriteErr(f); err != nil {
			return err
		}
	}
	c.writeFmt = f
	return nil
}

func (c *Channel) Read(ctx context.Context) (*channel.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		if c.ReadErr != nil {
			return nil, c.ReadErr
		}
		return nil, channel.ErrHangup
	}
	f := c.inbound[0]
	c.inbound = c.inbound[1:]
	return f, nil
}

func (c *Channel) Write(f *channel.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil && c.WriteErrFrom > 0 && len(c.written)+1 >= c.WriteErrFrom {
		return c.WriteErr
	}
	if f.Type == channel.FrameVoice && f.Format != c.writeFmt {
		return fmt.Errorf("channeltest: кадр %s при формате записи %s", f.Format, c.writeFmt)
	}
	cp := *f
	cp.Samples = append([]int16(nil), f.Samples...)
	c.written = append(c.written, &cp)
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

var _ channel.Channel = (*Channel)(nil)
