package channel

// G.711 кодеки (ITU-T G.711), табличные преобразования по сегментам.

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// EncodeULawSample кодирует один линейный отсчет в μ-law
func EncodeULawSample(sample int16) uint8 {
	v := int(sample)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exp := 7
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mantissa := (v >> (exp + 3)) & 0x0F

	return ^uint8(sign | exp<<4 | mantissa)
}

// DecodeULawSample декодирует один μ-law отсчет
func DecodeULawSample(u uint8) int16 {
	u = ^u
	exp := int(u>>4) & 0x07
	mantissa := int(u & 0x0F)

	v := ((mantissa << 3) + ulawBias) << exp
	v -= ulawBias
	if u&0x80 != 0 {
		return int16(-v)
	}
	return int16(v)
}

// EncodeALawSample кодирует один линейный отсчет в A-law
func EncodeALawSample(sample int16) uint8 {
	v := int(sample) >> 3

	mask := 0xD5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}

	seg := len(alawSegEnd)
	for i, end := range alawSegEnd {
		if v <= end {
			seg = i
			break
		}
	}
	if seg >= len(alawSegEnd) {
		return uint8(0x7F ^ mask)
	}

	aval := seg << 4
	if seg < 2 {
		aval |= (v >> 1) & 0x0F
	} else {
		aval |= (v >> seg) & 0x0F
	}
	return uint8(aval ^ mask)
}

// DecodeALawSample декодирует один A-law отсчет
func DecodeALawSample(a uint8) int16 {
	a ^= 0x55

	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}

	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// EncodeULaw кодирует линейные отсчеты в μ-law
func EncodeULaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeULawSample(s)
	}
	return out
}

// DecodeULaw декодирует μ-law данные в линейные отсчеты
func DecodeULaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeULawSample(b)
	}
	return out
}

// EncodeALaw кодирует линейные отсчеты в A-law
func EncodeALaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeALawSample(s)
	}
	return out
}

// DecodeALaw декодирует A-law данные в линейные отсчеты
func DecodeALaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeALawSample(b)
	}
	return out
}
