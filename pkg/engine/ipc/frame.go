// Package ipc реализует движок факсов во внешнем процессе.
//
// Обмен идет через stdin/stdout процесса кадрами вида
// <4 байта big-endian длины><msgpack payload>. Каждый запрос получает
// ровно один ответ "ack" с тем же seq.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxFrameSize максимальный размер кадра вместе с префиксом длины
	MaxFrameSize = 1 << 20
	// LengthPrefixSize размер префикса длины
	LengthPrefixSize = 4
	// MaxPayloadSize максимальный размер payload
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind классифицирует ошибки кадров
type FrameErrorKind int

const (
	// FrameErrorPartial обрезанный кадр
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge кадр больше MaxFrameSize
	FrameErrorTooLarge
	// FrameErrorDecode ошибка msgpack
	FrameErrorDecode
)

// FrameError ошибка чтения или разбора кадра
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ipc: %s: %v", e.Msg, e.Err)
	}
	return "ipc: " + e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatalFrameError сообщает, что поток кадров рассинхронизирован
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Kind == FrameErrorPartial || fe.Kind == FrameErrorTooLarge
	}
	return false
}

// FrameDecoder читает кадры из потока
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder создает декодер кадров
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame читает payload одного кадра. io.EOF - поток закрыт между кадрами.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "чтение префикса длины", Err: err}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload %d байт превышает максимум %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "чтение payload", Err: err}
	}
	return payload, nil
}

// Decode читает кадр и разбирает его в v
func (d *FrameDecoder) Decode(v any) error {
	payload, err := d.ReadFrame()
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "разбор msgpack", Err: err}
	}
	return nil
}

// FrameEncoder пишет кадры в поток
type FrameEncoder struct {
	writer io.Writer
}

// NewFrameEncoder создает кодировщик кадров
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// Encode сериализует v и пишет его одним кадром
func (e *FrameEncoder) Encode(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: кодирование msgpack: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload %d байт превышает максимум %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	if _, err := e.writer.Write(buf); err != nil {
		return fmt.Errorf("ipc: запись кадра: %w", err)
	}
	return nil
}
