package ipc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arzzra/faxbridge/pkg/engine"
)

// DefaultTimeout время ожидания ответа внешнего движка
const DefaultTimeout = 5 * time.Second

// ErrTimeout движок не ответил вовремя
var ErrTimeout = errors.New("ipc: таймаут ответа движка")

// Engine движок факсов во внешнем процессе.
//
// После первой ошибки обмена Feed возвращает true, Drain - nil:
// сессия завершается, а не зависает на мертвом процессе.
type Engine struct {
	conn    io.ReadWriteCloser
	enc     *FrameEncoder
	dec     *FrameDecoder
	config  engine.Config
	timeout time.Duration

	mu     sync.Mutex
	seq    uint32
	failed error
	closed bool
}

// NewEngine открывает сессию движка поверх conn и отправляет init.
// При ошибке conn закрывается.
func NewEngine(conn io.ReadWriteCloser, cfg engine.Config, timeout time.Duration) (*Engine, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := &Engine{
		conn:    conn,
		enc:     NewFrameEncoder(conn),
		dec:     NewFrameDecoder(conn),
		config:  cfg,
		timeout: timeout,
	}

	if _, err := e.roundTrip(Request{Type: TypeInit, Init: initParams(cfg)}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ipc: init: %w", err)
	}
	return e, nil
}

// Feed передает входящий блок и возвращает признак остановки.
// Результат сессии, пришедший в ответе, доставляется до возврата из Feed.
func (e *Engine) Feed(samples []int16) bool {
	resp, err := e.roundTrip(Request{Type: TypeFeed, Samples: samples})
	if err != nil {
		return true
	}
	if resp.Completion != nil && e.config.OnComplete != nil {
		e.config.OnComplete(engine.Completion{
			Code:      engine.CompletionCode(resp.Completion.Code),
			PeerIdent: resp.Completion.PeerIdent,
		})
	}
	return resp.Stop
}

// Drain запрашивает до max отсчетов исходящего аудио
func (e *Engine) Drain(max int) []int16 {
	resp, err := e.roundTrip(Request{Type: TypeDrain, Max: max})
	if err != nil {
		return nil
	}
	if len(resp.Samples) > max {
		e.log(engine.LevelWarning, fmt.Sprintf("движок вернул %d отсчетов при лимите %d", len(resp.Samples), max))
		return resp.Samples[:max]
	}
	return resp.Samples
}

// Terminate завершает сессию движка и закрывает соединение
func (e *Engine) Terminate() error {
	e.mu.Lock()
	healthy := e.failed == nil && !e.closed
	e.mu.Unlock()

	var err error
	if healthy {
		_, err = e.roundTrip(Request{Type: TypeTerminate})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return err
	}
	e.closed = true
	if cerr := e.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// roundTrip отправляет запрос и ждет ack с тем же seq.
// Журнал движка из ответа пересылается в config.Log.
func (e *Engine) roundTrip(req Request) (*Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed != nil {
		return nil, e.failed
	}
	if e.closed {
		return nil, io.ErrClosedPipe
	}

	e.seq++
	req.Seq = e.seq

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if r.err = e.enc.Encode(req); r.err == nil {
			r.err = e.dec.Decode(&r.resp)
		}
		done <- r
	}()

	var r result
	select {
	case r = <-done:
	case <-time.After(e.timeout):
		// Закрытие соединения прерывает зависшее чтение
		_ = e.conn.Close()
		r.err = ErrTimeout
	}

	if r.err == nil {
		r.err = e.check(req, &r.resp)
	}
	if r.err != nil {
		e.failed = fmt.Errorf("ipc: %s #%d: %w", req.Type, req.Seq, r.err)
		e.logLocked(engine.LevelError, e.failed.Error())
		return nil, e.failed
	}

	for _, rec := range r.resp.Logs {
		e.logLocked(engine.Level(rec.Level), rec.Message)
	}
	return &r.resp, nil
}

func (e *Engine) check(req Request, resp *Response) error {
	if resp.Type != TypeAck {
		return fmt.Errorf("ожидался %s, получен %q", TypeAck, resp.Type)
	}
	if resp.Seq != req.Seq {
		return fmt.Errorf("ответ #%d на запрос #%d", resp.Seq, req.Seq)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func (e *Engine) log(level engine.Level, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logLocked(level, msg)
}

func (e *Engine) logLocked(level engine.Level, msg string) {
	if e.config.Log != nil {
		e.config.Log(level, msg)
	}
}

var _ engine.Engine = (*Engine)(nil)
