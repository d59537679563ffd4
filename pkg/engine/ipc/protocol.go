package ipc

import "github.com/arzzra/faxbridge/pkg/engine"

// Типы сообщений
const (
	TypeInit      = "init"
	TypeFeed      = "feed"
	TypeDrain     = "drain"
	TypeTerminate = "terminate"
	TypeAck       = "ack"
)

// Request запрос к внешнему движку
type Request struct {
	Type    string      `msgpack:"type"`
	Seq     uint32      `msgpack:"seq"`
	Init    *InitParams `msgpack:"init,omitempty"`
	Samples []int16     `msgpack:"samples,omitempty"`
	Max     int         `msgpack:"max,omitempty"`
}

// InitParams параметры сессии, передаваемые в init
type InitParams struct {
	Role         string `msgpack:"role"`
	Direction    string `msgpack:"direction"`
	Verbose      bool   `msgpack:"verbose"`
	LocalIdent   string `msgpack:"local_ident,omitempty"`
	HeaderInfo   string `msgpack:"header_info,omitempty"`
	FilePath     string `msgpack:"file_path"`
	ECM          bool   `msgpack:"ecm"`
	Compressions uint32 `msgpack:"compressions"`
}

// Response ответ внешнего движка
type Response struct {
	Type       string            `msgpack:"type"`
	Seq        uint32            `msgpack:"seq"`
	Stop       bool              `msgpack:"stop,omitempty"`
	Samples    []int16           `msgpack:"samples,omitempty"`
	Completion *CompletionRecord `msgpack:"completion,omitempty"`
	Logs       []LogRecord       `msgpack:"logs,omitempty"`
	Error      string            `msgpack:"error,omitempty"`
}

// CompletionRecord результат фазы E
type CompletionRecord struct {
	Code      int    `msgpack:"code"`
	PeerIdent string `msgpack:"peer_ident"`
}

// LogRecord диагностическое сообщение движка
type LogRecord struct {
	Level   int    `msgpack:"level"`
	Message string `msgpack:"message"`
}

func initParams(cfg engine.Config) *InitParams {
	return &InitParams{
		Role:         cfg.Role.String(),
		Direction:    cfg.Direction.String(),
		Verbose:      cfg.Verbose,
		LocalIdent:   cfg.LocalIdent,
		HeaderInfo:   cfg.HeaderInfo,
		FilePath:     cfg.FilePath,
		ECM:          cfg.ECM,
		Compressions: uint32(cfg.Compressions),
	}
}
