// Package format переключает канал на линейный PCM на время сессии и
// гарантирует восстановление исходных форматов на любом пути выхода.
package format

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/channel"
)

// Canonical формат, с которым работает движок передачи документов
const Canonical = channel.FormatSLINEAR

// ErrFormatNegotiation канал отказался переключить формат
var ErrFormatNegotiation = errors.New("format: не удалось согласовать линейный формат")

// Scope владеет обязательством восстановить форматы канала.
//
// Создается Acquire, освобождается Release ровно один раз; повторный
// Release ничего не делает.
type Scope struct {
	ch     channel.Channel
	logger *zap.Logger

	originalRead  channel.Format
	originalWrite channel.Format
	active        bool
}

// Acquire переводит форматы чтения и записи канала в Canonical.
//
// Исходные значения запоминаются до изменения. Если не удалось сменить
// формат записи, формат чтения возвращается обратно (ошибка восстановления
// только логируется), а вызывающий получает ошибку прямого согласования.
func Acquire(ch channel.Channel, logger *zap.Logger) (*Scope, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scope{
		ch:            ch,
		logger:        logger,
		originalRead:  ch.ReadFormat(),
		originalWrite: ch.WriteFormat(),
	}

	if s.originalRead != Canonical {
		if err := ch.SetReadFormat(Canonical); err != nil {
			logger.Warn("не удалось перевести чтение в линейный режим",
				zap.String("channel", ch.Name()),
				zap.Stringer("format", s.originalRead),
				zap.Error(err))
			return nil, fmt.Errorf("%w: чтение на %s: %w", ErrFormatNegotiation, ch.Name(), err)
		}
	}

	if s.originalWrite != Canonical {
		if err := ch.SetWriteFormat(Canonical); err != nil {
			logger.Warn("не удалось перевести запись в линейный режим",
				zap.String("channel", ch.Name()),
				zap.Stringer("format", s.originalWrite),
				zap.Error(err))
			s.restoreRead()
			return nil, fmt.Errorf("%w: запись на %s: %w", ErrFormatNegotiation, ch.Name(), err)
		}
	}

	s.active = true
	return s, nil
}

// Release восстанавливает исходные форматы канала.
// Ошибки восстановления логируются и не возвращаются.
func (s *Scope) Release() {
	if s == nil || !s.active {
		return
	}
	s.active = false

	s.restoreRead()
	s.restoreWrite()
}

// Active сообщает, держит ли Scope измененные форматы канала
func (s *Scope) Active() bool {
	return s != nil && s.active
}

// OriginalRead возвращает формат чтения канала до согласования
func (s *Scope) OriginalRead() channel.Format { return s.originalRead }

// OriginalWrite возвращает формат записи канала до согласования
func (s *Scope) OriginalWrite() channel.Format { return s.originalWrite }

func (s *Scope) restoreRead() {
	if s.originalRead == Canonical {
		return
	}
	if err := s.ch.SetReadFormat(s.originalRead); err != nil {
		s.logger.Warn("не удалось восстановить формат чтения",
			zap.String("channel", s.ch.Name()),
			zap.Stringer("format", s.originalRead),
			zap.Error(err))
	}
}

func (s *Scope) restoreWrite() {
	if s.originalWrite == Canonical {
		return
	}
	if err := s.ch.SetWriteFormat(s.originalWrite); err != nil {
		s.logger.Warn("не удалось восстановить формат записи",
			zap.String("channel", s.ch.Name()),
			zap.Stringer("format", s.originalWrite),
			zap.Error(err))
	}
}
