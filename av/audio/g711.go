package audio

// G.711 companding as defined by ITU-T G.711. Every function here is pure and
// operates on a single sample; there is no state shared between samples.

const (
	muLawBias = 0x84
	muLawClip = 32635

	aLawToggle = 0x55
)

// aLawSegmentEnd holds the upper bound of each A-law segment in the 13-bit
// magnitude domain.
var aLawSegmentEnd = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// DecodeMuLaw expands a µ-law byte into a 16-bit linear PCM sample.
func DecodeMuLaw(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)

	magnitude := ((mantissa << 3) + muLawBias) << exponent
	magnitude -= muLawBias

	if u&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// EncodeMuLaw compresses a 16-bit linear PCM sample into a µ-law byte.
func EncodeMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeALaw expands an A-law byte into a 16-bit linear PCM sample.
func DecodeALaw(a byte) int16 {
	a ^= aLawToggle
	magnitude := int32(a&0x0F) << 4
	segment := (a & 0x70) >> 4

	switch segment {
	case 0:
		magnitude += 8
	case 1:
		magnitude += 0x108
	default:
		magnitude += 0x108
		magnitude <<= segment - 1
	}

	if a&0x80 != 0 {
		return int16(magnitude)
	}
	return int16(-magnitude)
}

// EncodeALaw compresses a 16-bit linear PCM sample into an A-law byte.
func EncodeALaw(sample int16) byte {
	pcm := int32(sample) >> 3

	var mask byte
	if pcm >= 0 {
		mask = 0xD5
	} else {
		mask = aLawToggle
		pcm = -pcm - 1
	}

	segment := len(aLawSegmentEnd)
	for i, end := range aLawSegmentEnd {
		if pcm <= end {
			segment = i
			break
		}
	}
	if segment >= len(aLawSegmentEnd) {
		return 0x7F ^ mask
	}

	value := byte(segment << 4)
	if segment < 2 {
		value |= byte(pcm>>1) & 0x0F
	} else {
		value |= byte(pcm>>segment) & 0x0F
	}
	return value ^ mask
}
