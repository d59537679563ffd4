package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/engine"
)

// Значения переменной результата
const (
	ResultSuccess = "SUCCESS"
	ResultError   = "ERROR"
)

// Reporter публикует итог сессии в переменные канала.
//
// Доставка принимается один раз: повторные вызовы Report игнорируются.
// Report безопасен для вызова из любой горутины.
type Reporter struct {
	vars      channel.Variables
	resultVar string
	logger    *zap.Logger

	once       sync.Once
	mu         sync.Mutex
	completion *engine.Completion
}

// NewReporter создает Reporter, пишущий результат в resultVar
func NewReporter(vars channel.Variables, resultVar string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{vars: vars, resultVar: resultVar, logger: logger}
}

// Report обрабатывает завершение движка
func (r *Reporter) Report(c engine.Completion) {
	r.once.Do(func() {
		if c.OK() {
			r.vars.SetVar(channel.VarRemoteStationID, c.PeerIdent)
			r.vars.SetVar(r.resultVar, ResultSuccess)
			r.logger.Info("передача завершена успешно",
				zap.String("remote_station_id", c.PeerIdent))
		} else {
			r.logger.Warn("передача факса не удалась",
				zap.Int("result", int(c.Code)),
				zap.String("reason", c.Code.String()))
			r.vars.SetVar(r.resultVar, ResultError)
		}

		r.mu.Lock()
		r.completion = &c
		r.mu.Unlock()
	})
}

// Completion возвращает доставленный результат, если он был
func (r *Reporter) Completion() (engine.Completion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completion == nil {
		return engine.Completion{}, false
	}
	return *r.completion, true
}

// resultVarFor возвращает имя переменной результата для направления
func resultVarFor(d engine.Direction) string {
	if d == engine.DirectionReceive {
		return channel.VarRxFaxResult
	}
	return channel.VarTxFaxResult
}
