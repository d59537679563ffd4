package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/faxopts"
)

// Adapter владеет экземпляром движка на время одной сессии
type Adapter struct {
	engine     Engine
	config     Config
	logger     *zap.Logger
	terminated bool
}

// StartOptions параметры запуска адаптера
type StartOptions struct {
	Request   faxopts.Request
	Direction Direction
	// Vars источник LOCALSTATIONID и LOCALHEADERINFO
	Vars channel.Variables
	// OnComplete единственный обработчик завершения сессии
	OnComplete func(Completion)
	Logger     *zap.Logger
}

// Start создает движок через factory и настраивает его для сессии.
//
// Роль по умолчанию - отвечающая, caller включает вызывающую. Непустые
// LOCALSTATIONID и LOCALHEADERINFO передаются движку. ECM и набор схем
// сжатия включаются всегда.
func Start(factory Factory, opts StartOptions) (*Adapter, error) {
	if factory == nil {
		return nil, errors.New("engine: фабрика движка не задана")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := Config{
		Role:         RoleAnswerer,
		Direction:    opts.Direction,
		Verbose:      opts.Request.Debug,
		FilePath:     opts.Request.FilePath,
		ECM:          true,
		Compressions: DefaultCompressions,
		Log:          NewLogFunc(logger, opts.Request.Debug),
	}
	if opts.Request.Caller {
		cfg.Role = RoleOriginator
	}
	if opts.Vars != nil {
		if v := opts.Vars.Var(channel.VarLocalStationID); v != "" {
			cfg.LocalIdent = truncate(v, MaxIdentLen)
		}
		if v := opts.Vars.Var(channel.VarLocalHeaderInfo); v != "" {
			cfg.HeaderInfo = v
		}
	}
	if onComplete := opts.OnComplete; onComplete != nil {
		cfg.OnComplete = func(c Completion) {
			c.PeerIdent = truncate(c.PeerIdent, MaxIdentLen)
			onComplete(c)
		}
	}

	eng, err := factory.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: создание движка (%s, %s): %w", cfg.Role, cfg.Direction, err)
	}

	logger.Debug("движок запущен",
		zap.Stringer("role", cfg.Role),
		zap.Stringer("direction", cfg.Direction),
		zap.String("file", cfg.FilePath),
		zap.Bool("local_ident", cfg.LocalIdent != ""),
		zap.Bool("header_info", cfg.HeaderInfo != ""))

	return &Adapter{engine: eng, config: cfg, logger: logger}, nil
}

// Config возвращает конфигурацию, с которой создан движок
func (a *Adapter) Config() Config { return a.config }

// Feed передает входящее аудио движку. Возвращает true, когда движок
// требует завершить сессию.
func (a *Adapter) Feed(samples []int16) bool {
	if a.terminated {
		return true
	}
	return a.engine.Feed(samples)
}

// Drain забирает до max отсчетов исходящего аудио.
// Движок, вернувший больше max, нарушает контракт.
func (a *Adapter) Drain(max int) []int16 {
	if a.terminated || max <= 0 {
		return nil
	}
	if max > MaxBlockSize {
		max = MaxBlockSize
	}
	out := a.engine.Drain(max)
	if len(out) > max {
		panic(fmt.Sprintf("engine: Drain вернул %d отсчетов при лимите %d", len(out), max))
	}
	return out
}

// Terminate освобождает ресурсы движка. Повторные вызовы ничего не делают.
func (a *Adapter) Terminate() error {
	if a.terminated {
		return nil
	}
	a.terminated = true
	if err := a.engine.Terminate(); err != nil {
		a.logger.Warn("ошибка завершения движка", zap.Error(err))
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
