package coltab

import "math"

// IEEE-754 binary16 support for half-precision float columns.
//
// Layout:
//
//	sign: 1 bit
//	exp:  5 bits (bias 15)
//	frac: 10 bits

const (
	f16SignMask uint16 = 0x8000
	f16ExpMask  uint16 = 0x7C00
	f16FracMask uint16 = 0x03FF

	f32ExpMask  uint32 = 0x7F800000
	f32FracMask uint32 = 0x007FFFFF
)

// float16ToFloat64 converts a binary16 bit-pattern to float64.
func float16ToFloat64(h uint16) float64 {
	return float64(float16ToFloat32(h))
}

// float16FromFloat64 converts a float64 into a binary16 bit-pattern,
// rounding to nearest, ties to even.
func float16FromFloat64(f float64) uint16 {
	return float16FromFloat32(float32(f))
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&f16SignMask) << 16
	exp := uint32(h&f16ExpMask) >> 10
	frac := uint32(h & f16FracMask)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize the fraction. Half subnormals have an
		// exponent of -14 and no implicit leading 1.
		e := int32(-14)
		m := frac
		for (m & 0x0400) == 0 {
			m <<= 1
			e--
		}
		m &= 0x03FF // strip leading 1
		f32Exp := uint32(int32(127)+e) << 23
		return math.Float32frombits(sign | f32Exp | m<<13)
	case 0x1F:
		// Inf/NaN
		if frac == 0 {
			return math.Float32frombits(sign | f32ExpMask)
		}
		return math.Float32frombits(sign | f32ExpMask | (frac << 13))
	default:
		f32Exp := uint32(int32(exp)-15+127) << 23
		return math.Float32frombits(sign | f32Exp | frac<<13)
	}
}

func float16FromFloat32(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & uint32(f16SignMask))
	exp := int32((bits & f32ExpMask) >> 23)
	frac := bits & f32FracMask

	// NaN / Inf
	if exp == 0xFF {
		if frac == 0 {
			return sign | f16ExpMask
		}
		// Preserve some payload; ensure it's a quiet NaN and non-zero.
		payload := uint16(frac >> 13)
		if payload == 0 {
			payload = 1
		}
		payload |= 0x0200
		return sign | f16ExpMask | (payload & f16FracMask)
	}

	// Zero (float32 subnormals underflow to zero for binary16 in practice)
	if exp == 0 {
		return sign
	}

	// Re-bias exponent from float32 (127) to float16 (15).
	e16 := exp - 127 + 15

	// Overflow -> Inf
	if e16 >= 0x1F {
		return sign | f16ExpMask
	}

	// Underflow -> subnormal/zero
	if e16 <= 0 {
		if e16 < -10 {
			return sign
		}
		// Make the implicit leading 1 explicit.
		mant := frac | 0x00800000
		shift := uint32(1-e16) + 13
		m := mant >> shift
		remainder := mant & ((uint32(1) << shift) - 1)
		half := uint32(1) << (shift - 1)
		if remainder > half || (remainder == half && (m&1) == 1) {
			m++
		}
		return sign | uint16(m)
	}

	// Normal case: convert fraction (23 bits) -> (10 bits) with rounding.
	m := frac >> 13
	remainder := frac & 0x1FFF
	if remainder > 0x1000 || (remainder == 0x1000 && (m&1) == 1) {
		m++
		if m == 0x0400 {
			// Mantissa overflow; carry into exponent.
			m = 0
			e16++
			if e16 >= 0x1F {
				return sign | f16ExpMask
			}
		}
	}

	return sign | uint16(uint32(e16)<<10) | uint16(m)
}
