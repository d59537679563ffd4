package engine

import "go.uber.org/zap"

// Level уровень диагностического сообщения движка
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelProtocol
	LevelFlow
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelProtocol:
		return "protocol"
	case LevelFlow:
		return "flow"
	default:
		return "debug"
	}
}

// LogFunc приемник диагностики движка
type LogFunc func(level Level, msg string)

// NewLogFunc направляет диагностику движка в logger.
//
// Ошибки и предупреждения проходят всегда. Трассировка протокола и потока
// пишется на уровне debug только в подробном режиме.
func NewLogFunc(logger *zap.Logger, verbose bool) LogFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(level Level, msg string) {
		switch level {
		case LevelError:
			logger.Error(msg, zap.Stringer("engine_level", level))
		case LevelWarning:
			logger.Warn(msg, zap.Stringer("engine_level", level))
		case LevelProtocol, LevelFlow:
			if verbose {
				logger.Debug(msg, zap.Stringer("engine_level", level))
			}
		default:
			logger.Debug(msg, zap.Stringer("engine_level", level))
		}
	}
}
