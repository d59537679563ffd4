package channel

import "fmt"

// Format идентификатор аудио кодирования канала
type Format int

const (
	FormatUnknown Format = iota
	// FormatSLINEAR знаковый линейный 16-битный PCM, 8 кГц
	FormatSLINEAR
	// FormatULAW G.711 μ-law
	FormatULAW
	// FormatALAW G.711 A-law
	FormatALAW
)

// SampleRate частота дискретизации всех поддерживаемых форматов
const SampleRate = 8000

// String возвращает строковое представление формата
func (f Format) String() string {
	switch f {
	case FormatSLINEAR:
		return "slin"
	case FormatULAW:
		return "ulaw"
	case FormatALAW:
		return "alaw"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// BytesPerSample возвращает размер одного отсчета в байтах
func (f Format) BytesPerSample() int {
	switch f {
	case FormatSLINEAR:
		return 2
	case FormatULAW, FormatALAW:
		return 1
	default:
		return 0
	}
}

// Encode кодирует линейные отсчеты в формат f
func (f Format) Encode(samples []int16) ([]byte, error) {
	switch f {
	case FormatULAW:
		return EncodeULaw(samples), nil
	case FormatALAW:
		return EncodeALaw(samples), nil
	default:
		return nil, fmt.Errorf("channel: кодирование в %s не поддерживается", f)
	}
}

// Decode декодирует данные формата f в линейные отсчеты
func (f Format) Decode(data []byte) ([]int16, error) {
	switch f {
	case FormatULAW:
		return DecodeULaw(data), nil
	case FormatALAW:
		return DecodeALaw(data), nil
	default:
		return nil, fmt.Errorf("channel: декодирование из %s не поддерживается", f)
	}
}
