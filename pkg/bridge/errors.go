package bridge

import "fmt"

// ErrorCode классифицирует ошибки сессии
type ErrorCode int

const (
	ErrorCodeInvalidArgument ErrorCode = iota + 2000
	ErrorCodeChannelNotReady
	ErrorCodeFormatNegotiation
	ErrorCodeEngineStart
	ErrorCodeStreamEnded
	ErrorCodeWriteFailure
	ErrorCodeProtocolOutcome
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeInvalidArgument:
		return "InvalidArgument"
	case ErrorCodeChannelNotReady:
		return "ChannelNotReady"
	case ErrorCodeFormatNegotiation:
		return "FormatNegotiationError"
	case ErrorCodeEngineStart:
		return "EngineStart"
	case ErrorCodeStreamEnded:
		return "StreamEnded"
	case ErrorCodeWriteFailure:
		return "WriteFailure"
	case ErrorCodeProtocolOutcome:
		return "ProtocolOutcomeError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// SessionError ошибка сессии с типизированным кодом.
// errors.Is сравнивает ошибки по коду, errors.Unwrap отдает причину.
type SessionError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Wrapped   error
}

// Error реализует интерфейс error
func (e *SessionError) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	if e.SessionID != "" {
		return fmt.Sprintf("[факс:%s] сессия %s: %s", e.Code, e.SessionID, msg)
	}
	return fmt.Sprintf("[факс:%s] %s", e.Code, msg)
}

// Unwrap возвращает причину ошибки
func (e *SessionError) Unwrap() error { return e.Wrapped }

// Is сравнивает ошибки по коду
func (e *SessionError) Is(target error) bool {
	if t, ok := target.(*SessionError); ok {
		return e.Code == t.Code
	}
	return false
}

// Сентинелы для errors.Is
var (
	ErrInvalidArgument   = &SessionError{Code: ErrorCodeInvalidArgument, Message: "нет аргумента"}
	ErrChannelNotReady   = &SessionError{Code: ErrorCodeChannelNotReady, Message: "канал не отвечен"}
	ErrFormatNegotiation = &SessionError{Code: ErrorCodeFormatNegotiation, Message: "формат не согласован"}
	ErrEngineStart       = &SessionError{Code: ErrorCodeEngineStart, Message: "движок не запущен"}
	ErrStreamEnded       = &SessionError{Code: ErrorCodeStreamEnded, Message: "поток завершен"}
	ErrWriteFailure      = &SessionError{Code: ErrorCodeWriteFailure, Message: "ошибка записи в канал"}
	ErrProtocolOutcome   = &SessionError{Code: ErrorCodeProtocolOutcome, Message: "передача не удалась"}
)

func newSessionError(code ErrorCode, sessionID, message string, wrapped error) *SessionError {
	return &SessionError{Code: code, Message: message, SessionID: sessionID, Wrapped: wrapped}
}
