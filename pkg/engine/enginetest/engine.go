// Package enginetest предоставляет скриптуемый движок для тестов моста.
package enginetest

import (
	"errors"
	"sync"

	"github.com/arzzra/faxbridge/pkg/engine"
)

// Script описывает поведение движка
type Script struct {
	// CompleteAfter номер вызова Feed (с 1), внутри которого вызывается OnComplete. 0 - никогда.
	CompleteAfter int
	Completion    engine.Completion
	// StopAfter номер вызова Feed, который вернет true. 0 - никогда.
	StopAfter int
	// Output формирует результат Drain. nil - max отсчетов со значением 1.
	Output func(call, max int) []int16
}

// Engine скриптуемая реализация engine.Engine
type Engine struct {
	mu     sync.Mutex
	script Script

	Config        engine.Config
	FeedSizes     []int
	DrainRequests []int
	Terminations  int
}

func (e *Engine) Feed(samples []int16) bool {
	e.mu.Lock()
	e.FeedSizes = append(e.FeedSizes, len(samples))
	call := len(e.FeedSizes)
	e.mu.Unlock()

	if e.script.CompleteAfter == call && e.Config.OnComplete != nil {
		e.Config.OnComplete(e.script.Completion)
	}
	if e.Config.Log != nil {
		e.Config.Log(engine.LevelFlow, "rx block")
	}
	return e.script.StopAfter == call
}

func (e *Engine) Drain(max int) []int16 {
	e.mu.Lock()
	e.DrainRequests = append(e.DrainRequests, max)
	call := len(e.DrainRequests)
	e.mu.Unlock()

	if e.script.Output != nil {
		return e.script.Output(call, max)
	}
	out := make([]int16, max)
	for i := range out {
		out[i] = 1
	}
	return out
}

func (e *Engine) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Terminations++
	return nil
}

// Snapshot возвращает копии счетчиков вызовов
func (e *Engine) Snapshot() (feeds []int, drains []int, terminations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.FeedSizes...), append([]int(nil), e.DrainRequests...), e.Terminations
}

// Factory создает Engine по Script и запоминает созданные экземпляры
type Factory struct {
	mu      sync.Mutex
	Script  Script
	Err     error
	created []*Engine
}

// ErrCreate типовая ошибка создания движка
var ErrCreate = errors.New("enginetest: движок недоступен")

func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	e := &Engine{script: f.Script, Config: cfg}
	f.mu.Lock()
	f.created = append(f.created, e)
	f.mu.Unlock()
	return e, nil
}

// Last возвращает последний созданный движок или nil
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

var _ engine.Factory = (*Factory)(nil)
