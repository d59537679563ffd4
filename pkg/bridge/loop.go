package bridge

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/engine"
)

// Состояния цикла моста
const (
	StateWaitFrame   = "wait_frame"
	StateFeed        = "feed"
	StateDrain       = "drain"
	StateWrite       = "write"
	StateTerminating = "terminating"
)

// События цикла моста
const (
	eventVoice   = "voice"
	eventFed     = "fed"
	eventDrained = "drained"
	eventIdle    = "idle"
	eventWritten = "written"
	eventStop    = "stop"
)

// StopReason причина выхода из цикла
type StopReason int

const (
	StopNone StopReason = iota
	// StopHangup канал сообщил о конце потока
	StopHangup
	// StopWriteFailure канал отверг исходящий кадр
	StopWriteFailure
	// StopEngine движок попросил завершить сессию
	StopEngine
)

func (r StopReason) String() string {
	switch r {
	case StopHangup:
		return "hangup"
	case StopWriteFailure:
		return "write_failure"
	case StopEngine:
		return "engine_stop"
	default:
		return "none"
	}
}

// transferEngine часть адаптера движка, нужная циклу
type transferEngine interface {
	Feed(samples []int16) bool
	Drain(max int) []int16
}

// loop планировщик реального времени: один входящий кадр - не более
// одного исходящего кадра.
type loop struct {
	ch      channel.Channel
	engine  transferEngine
	logger  *zap.Logger
	metrics *Metrics
	machine *fsm.FSM

	inboundSamples []int16
	outbound       []int16

	reason StopReason
	err    error
}

func newLoop(ch channel.Channel, eng transferEngine, logger *zap.Logger, metrics *Metrics) *loop {
	l := &loop{ch: ch, engine: eng, logger: logger, metrics: metrics}
	l.machine = fsm.NewFSM(
		StateWaitFrame,
		fsm.Events{
			{Name: eventVoice, Src: []string{StateWaitFrame}, Dst: StateFeed},
			{Name: eventFed, Src: []string{StateFeed}, Dst: StateDrain},
			{Name: eventDrained, Src: []string{StateDrain}, Dst: StateWrite},
			{Name: eventIdle, Src: []string{StateDrain}, Dst: StateWaitFrame},
			{Name: eventWritten, Src: []string{StateWrite}, Dst: StateWaitFrame},
			{Name: eventStop, Src: []string{StateWaitFrame, StateFeed, StateWrite}, Dst: StateTerminating},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.metrics.transition(e.Src, e.Dst)
			},
		},
	)
	return l
}

// run крутит цикл до состояния terminating и возвращает причину выхода
func (l *loop) run(ctx context.Context) StopReason {
	for {
		switch l.machine.Current() {
		case StateWaitFrame:
			l.waitFrame(ctx)
		case StateFeed:
			l.feed()
		case StateDrain:
			l.drain()
		case StateWrite:
			l.write()
		case StateTerminating:
			return l.reason
		default:
			l.stop(StopNone, nil)
			return l.reason
		}
	}
}

func (l *loop) waitFrame(ctx context.Context) {
	frame, err := l.ch.Read(ctx)
	if err != nil || frame == nil {
		l.logger.Debug("получен отбой", zap.Error(err))
		l.stop(StopHangup, err)
		return
	}
	if frame.Type != channel.FrameVoice {
		return
	}

	samples := frame.Samples
	if frame.Format != channel.FormatSLINEAR {
		decoded, err := frame.Format.Decode(frame.Payload)
		if err != nil {
			l.logger.Warn("кадр в неожиданном формате пропущен",
				zap.Stringer("format", frame.Format), zap.Error(err))
			return
		}
		samples = decoded
	}

	l.inboundSamples = samples
	l.metrics.frame("in", len(samples))
	l.fire(eventVoice)
}

func (l *loop) feed() {
	if l.engine.Feed(l.inboundSamples) {
		l.logger.Debug("движок запросил остановку")
		l.stop(StopEngine, nil)
		return
	}
	l.fire(eventFed)
}

func (l *loop) drain() {
	max := len(l.inboundSamples)
	if max > engine.MaxBlockSize {
		max = engine.MaxBlockSize
	}

	l.outbound = l.engine.Drain(max)
	if len(l.outbound) == 0 {
		l.fire(eventIdle)
		return
	}
	l.fire(eventDrained)
}

func (l *loop) write() {
	if err := l.ch.Write(channel.NewVoiceFrame(l.outbound)); err != nil {
		l.logger.Warn("не удалось записать кадр в канал",
			zap.String("channel", l.ch.Name()),
			zap.Int("samples", len(l.outbound)),
			zap.Error(err))
		l.stop(StopWriteFailure, err)
		return
	}
	l.metrics.frame("out", len(l.outbound))
	l.fire(eventWritten)
}

func (l *loop) stop(reason StopReason, err error) {
	l.reason = reason
	l.err = err
	if l.machine.Can(eventStop) {
		l.fire(eventStop)
		return
	}
	l.machine.SetState(StateTerminating)
}

func (l *loop) fire(event string) {
	if err := l.machine.Event(context.Background(), event); err != nil {
		l.logger.Error("недопустимый переход цикла моста",
			zap.String("event", event),
			zap.String("state", l.machine.Current()),
			zap.Error(err))
		l.machine.SetState(StateTerminating)
	}
}
