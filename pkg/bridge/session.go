// Package bridge соединяет аудио канал вызова с движком передачи факсов.
//
// Сессия разбирает аргументы, переводит канал в линейный PCM, запускает
// движок и перекачивает аудио в темпе канала до завершения. Форматы канала
// восстанавливаются, а движок освобождается на любом пути выхода.
//
//	s := bridge.New(bridge.Config{Factory: factory, Logger: logger})
//	res := s.Run(ctx, ch, "/var/spool/fax/doc.tif|caller")
//	if res.Code != 0 { ... }
package bridge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/engine"
	"github.com/arzzra/faxbridge/pkg/faxopts"
	"github.com/arzzra/faxbridge/pkg/format"
)

// Коды результата приложения
const (
	ResultCodeOK    = 0
	ResultCodeAbort = -1
)

// Outcome итог передачи документа
type Outcome int

const (
	// OutcomeIndeterminate движок не сообщил результат
	OutcomeIndeterminate Outcome = iota
	OutcomeSuccess
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	default:
		return "indeterminate"
	}
}

// Result результат одной сессии
type Result struct {
	// Code -1 при отбое, неготовом канале, отсутствии аргумента или
	// несогласованном формате; 0 в остальных случаях
	Code      int
	Outcome   Outcome
	PeerIdent string
	// Completion код завершения движка (если результат был доставлен)
	Completion engine.CompletionCode
	Reason     StopReason
	Request    faxopts.Request
	Duration   time.Duration
	// Err причина ненулевого Code или неуспешной передачи
	Err error
}

// Config параметры сессии
type Config struct {
	SessionID string
	Direction engine.Direction
	Factory   engine.Factory
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Session одна попытка передачи документа по одному каналу
type Session struct {
	config Config
	logger *zap.Logger
}

// New создает сессию
func New(config Config) *Session {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SessionID != "" {
		logger = logger.With(zap.String("session_id", config.SessionID))
	}
	return &Session{config: config, logger: logger.With(zap.Stringer("direction", config.Direction))}
}

// Run выполняет сессию на канале ch со строкой аргументов args.
// Блокируется до завершения сессии.
func (s *Session) Run(ctx context.Context, ch channel.Channel, args string) Result {
	started := time.Now()
	logger := s.logger.With(zap.String("channel", ch.Name()))

	req, err := faxopts.Parse(args)
	if err != nil {
		logger.Warn("приложение факса требует аргумент (имя файла)")
		return s.fail(ErrorCodeInvalidArgument, "нет аргумента", err, req)
	}
	logger = logger.With(zap.Stringer("args", req))

	if ch.State() != channel.StateUp {
		if err := ch.Answer(ctx); err != nil {
			logger.Warn("не удалось ответить на канал", zap.Error(err))
			return s.fail(ErrorCodeChannelNotReady, "не удалось ответить на канал "+ch.Name(), err, req)
		}
	}

	scope, err := format.Acquire(ch, logger)
	if err != nil {
		return s.fail(ErrorCodeFormatNegotiation, "канал не переведен в линейный режим", err, req)
	}

	var adapter *engine.Adapter
	defer func() {
		scope.Release()
		if adapter != nil {
			_ = adapter.Terminate()
		}
	}()

	reporter := NewReporter(ch, resultVarFor(s.config.Direction), logger)
	adapter, err = engine.Start(s.config.Factory, engine.StartOptions{
		Request:    req,
		Direction:  s.config.Direction,
		Vars:       ch,
		OnComplete: reporter.Report,
		Logger:     logger.Named("engine"),
	})
	if err != nil {
		logger.Warn("не удалось запустить движок", zap.Error(err))
		return s.fail(ErrorCodeEngineStart, "движок не запущен", err, req)
	}

	s.config.Metrics.sessionStarted()
	l := newLoop(ch, adapter, logger, s.config.Metrics)
	reason := l.run(ctx)

	res := Result{
		Code:    ResultCodeOK,
		Reason:  reason,
		Request: req,
	}
	if completion, ok := reporter.Completion(); ok {
		res.Completion = completion.Code
		if completion.OK() {
			res.Outcome = OutcomeSuccess
			res.PeerIdent = completion.PeerIdent
		} else {
			res.Outcome = OutcomeError
			res.Err = newSessionError(ErrorCodeProtocolOutcome, s.config.SessionID, completion.Code.String(), nil)
		}
	}

	switch reason {
	case StopHangup:
		res.Code = ResultCodeAbort
		if res.Err == nil {
			res.Err = newSessionError(ErrorCodeStreamEnded, s.config.SessionID, "удаленная сторона положила трубку", l.err)
		}
	case StopWriteFailure:
		if res.Err == nil {
			res.Err = newSessionError(ErrorCodeWriteFailure, s.config.SessionID, "ошибка записи в канал", l.err)
		}
	}

	res.Duration = time.Since(started)
	s.config.Metrics.sessionFinished(s.config.Direction.String(), res.Outcome, res.Duration)
	var se *SessionError
	if errors.As(res.Err, &se) {
		s.config.Metrics.error(se.Code)
	}

	logger.Info("сессия факса завершена",
		zap.Int("result", res.Code),
		zap.Stringer("outcome", res.Outcome),
		zap.Stringer("reason", res.Reason),
		zap.String("remote_station_id", res.PeerIdent),
		zap.Duration("duration", res.Duration))

	return res
}

func (s *Session) fail(code ErrorCode, message string, err error, req faxopts.Request) Result {
	s.config.Metrics.error(code)
	return Result{
		Code:    ResultCodeAbort,
		Outcome: OutcomeIndeterminate,
		Request: req,
		Err:     newSessionError(code, s.config.SessionID, message, err),
	}
}
