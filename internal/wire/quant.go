package wire

// Quantizer maps elevations in [min,max] onto 16-bit samples. The 0.5 in
// the offset turns the final truncation into round-to-nearest.
type Quantizer struct {
	scale  float32
	offset float32
}

// NewQuantizer returns a quantizer for the given elevation range.
func NewQuantizer(minElevation, maxElevation float32) Quantizer {
	scale := 65535 / (maxElevation - minElevation)
	return Quantizer{
		scale:  scale,
		offset: 0.5 - minElevation*scale,
	}
}

// Quantize maps an elevation to a 16-bit sample, clamping to [0,65535].
func (q Quantizer) Quantize(v float32) uint16 {
	s := v*q.scale + q.offset
	if s <= 0 {
		return 0
	}
	if s >= 65535 {
		return 65535
	}
	return uint16(s)
}

// Dequantizer is the inverse mapping. Recovered values differ from the
// original by at most half a quantization step.
type Dequantizer struct {
	scale  float32
	offset float32
}

// NewDequantizer returns a dequantizer for the given elevation range.
func NewDequantizer(minElevation, maxElevation float32) Dequantizer {
	return Dequantizer{
		scale:  (maxElevation - minElevation) / 65535,
		offset: minElevation,
	}
}

// Dequantize maps a 16-bit sample back to an elevation.
func (d Dequantizer) Dequantize(s uint16) float32 {
	return float32(s)*d.scale + d.offset
}

// Step returns the size of one quantization step.
func (d Dequantizer) Step() float32 {
	return d.scale
}
