// Package faxopts разбирает строку аргументов приложения факса.
//
// Формат строки: "<file_path>[|caller][|debug]". Первое поле всегда путь к
// файлу документа, остальные поля - флаги сессии в произвольном порядке.
// Нераспознанные флаги молча игнорируются.
package faxopts

import (
	"errors"
	"strings"
)

const (
	// Delimiter разделитель полей строки аргументов
	Delimiter = "|"

	// MaxPathLen максимальная длина пути к файлу в байтах.
	// Более длинный путь обрезается без ошибки.
	MaxPathLen = 255
)

// ErrInvalidArgument возвращается, когда строка аргументов отсутствует
var ErrInvalidArgument = errors.New("faxopts: требуется аргумент (имя файла)")

// Flag распознаваемый флаг сессии
type Flag string

const (
	// FlagCaller - сессия выступает вызывающей стороной (originator)
	FlagCaller Flag = "caller"
	// FlagDebug - подробная диагностика движка
	FlagDebug Flag = "debug"
)

// Flags возвращает словарь распознаваемых флагов
func Flags() []Flag {
	return []Flag{FlagCaller, FlagDebug}
}

// Request параметры одной сессии передачи документа.
// Значение неизменяемо после разбора.
type Request struct {
	FilePath string // Путь к файлу документа (не длиннее MaxPathLen байт)
	Caller   bool   // Роль вызывающей стороны вместо отвечающей
	Debug    bool   // Подробное логирование движка
}

// Parse разбирает строку аргументов в Request.
//
// Пустая строка - ErrInvalidArgument. Пустой путь после разбора допустим:
// ошибка проявится позже на уровне файла.
func Parse(raw string) (Request, error) {
	if raw == "" {
		return Request{}, ErrInvalidArgument
	}

	fields := strings.Split(raw, Delimiter)

	req := Request{FilePath: truncate(fields[0], MaxPathLen)}
	for _, field := range fields[1:] {
		switch Flag(field) {
		case FlagCaller:
			req.Caller = true
		case FlagDebug:
			req.Debug = true
		}
	}

	return req, nil
}

// String возвращает каноническую форму строки аргументов
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.FilePath)
	if r.Caller {
		b.WriteString(Delimiter)
		b.WriteString(string(FlagCaller))
	}
	if r.Debug {
		b.WriteString(Delimiter)
		b.WriteString(string(FlagDebug))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
