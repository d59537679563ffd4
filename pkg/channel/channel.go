// Package channel определяет границу телефонного канала, через который
// сессия факса получает и отправляет аудио.
//
// Канал предоставляет:
//   - управление форматами чтения/записи (нативный кодек или линейный PCM)
//   - блокирующее чтение кадров и запись аудио кадров
//   - переменные сессии (идентификаторы станций, результат передачи)
//
// Конкретные реализации (RTP, тестовые in-memory каналы) живут в других пакетах.
package channel

import (
	"context"
	"errors"
)

// Имена переменных канала
const (
	VarLocalStationID  = "LOCALSTATIONID"
	VarLocalHeaderInfo = "LOCALHEADERINFO"
	VarRemoteStationID = "REMOTESTATIONID"
	VarTxFaxResult     = "TXFAXRESULT"
	VarRxFaxResult     = "RXFAXRESULT"
)

// ErrHangup возвращается Read, когда удаленная сторона завершила вызов
var ErrHangup = errors.New("channel: удаленная сторона положила трубку")

// State состояние канала
type State int

const (
	StateDown State = iota
	StateRinging
	StateUp
)

// String возвращает строковое представление состояния
func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateRinging:
		return "ringing"
	case StateUp:
		return "up"
	default:
		return "unknown"
	}
}

// Variables переменные сессии канала
type Variables interface {
	// Var возвращает значение переменной или пустую строку
	Var(name string) string
	// SetVar устанавливает значение переменной
	SetVar(name, value string)
}

// Channel двунаправленный аудио канал вызова.
//
// Все методы кроме Hangup-подобных операций реализаций вызываются из одной
// горутины сессии.
type Channel interface {
	Variables

	// Name возвращает имя канала для логов
	Name() string

	// State возвращает текущее состояние канала
	State() State
	// Answer переводит канал в состояние StateUp
	Answer(ctx context.Context) error

	ReadFormat() Format
	WriteFormat() Format
	SetReadFormat(f Format) error
	SetWriteFormat(f Format) error

	// Read блокируется до следующего кадра. При завершении вызова
	// возвращает ErrHangup (или другую ошибку чтения).
	Read(ctx context.Context) (*Frame, error)
	// Write отправляет кадр в канал
	Write(f *Frame) error
}
