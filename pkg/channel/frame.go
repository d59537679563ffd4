package channel

// FrameType тип кадра канала
type FrameType int

const (
	// FrameVoice аудио кадр
	FrameVoice FrameType = iota
	// FrameControl сигнализация (не аудио)
	FrameControl
	// FrameDTMF событие telephone-event
	FrameDTMF
)

// String возвращает строковое представление типа кадра
func (t FrameType) String() string {
	switch t {
	case FrameVoice:
		return "voice"
	case FrameControl:
		return "control"
	case FrameDTMF:
		return "dtmf"
	default:
		return "unknown"
	}
}

// Frame единица активности канала.
//
// Для FormatSLINEAR аудио лежит в Samples, для остальных форматов -
// в Payload в закодированном виде.
type Frame struct {
	Type    FrameType
	Format  Format
	Samples []int16
	Payload []byte
}

// NewVoiceFrame создает линейный аудио кадр
func NewVoiceFrame(samples []int16) *Frame {
	return &Frame{Type: FrameVoice, Format: FormatSLINEAR, Samples: samples}
}

// SampleCount возвращает количество отсчетов в кадре
func (f *Frame) SampleCount() int {
	if f.Format == FormatSLINEAR {
		return len(f.Samples)
	}
	if bps := f.Format.BytesPerSample(); bps > 0 {
		return len(f.Payload) / bps
	}
	return 0
}
