package envdata

import (
	"fmt"
	"math"
)

// Reading value is Value * 2^Shift, see Fixed.

// Fixed converts integer v/div into mantissa and binary exponent
// with maximum precision that fits int32. Integer only.
func Fixed(v int64, div int64) (int32, int8) {
	if div <= 0 {
		panic("code error Fixed div must be positive")
	}
	if v == 0 {
		return 0, 0
	}
	neg := v < 0
	if neg {
		v = -v
	}
	shift := 0
	// shrink until quotient fits
	for v/div > math.MaxInt32 {
		v >>= 1
		shift++
	}
	// grow while doubled quotient still fits
	for shift > -31 && v <= math.MaxInt64/2 && (v*2)/div <= math.MaxInt32 {
		v <<= 1
		shift--
	}
	m := int32(v / div)
	if neg {
		m = -m
	}
	return m, int8(shift)
}

// FixedMilli is Fixed(v, 1000) for values measured in thousandths.
func FixedMilli(v int64) (int32, int8) { return Fixed(v, 1000) }

// Float is for logs and tests only, delivery path never uses floating point.
func Float(value int32, shift int8) float64 {
	return math.Ldexp(float64(value), int(shift))
}

// FormatFixed renders value*2^shift with given number of decimals, integer only.
func FormatFixed(value int32, shift int8, decimals int) string {
	v := int64(value)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	scale := int64(1)
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	var scaled int64
	switch {
	case shift >= 0:
		scaled = (v << uint(shift)) * scale
	default:
		// round half up
		s := uint(-shift)
		scaled = (v*scale + (int64(1) << (s - 1))) >> s
	}
	if decimals == 0 {
		return fmt.Sprintf("%s%d", sign, scaled)
	}
	return fmt.Sprintf("%s%d.%0*d", sign, scaled/scale, decimals, scaled%scale)
}
