package simd

import "encoding/binary"

// The unrolled tier widens the dot and squared-L2 loops to eight independent
// accumulator lanes, and the sum, scale, add, subtract, assemble and quantize
// loops to four, so the compiler can keep FMA pipes busy. Each of these keeps
// the generic scalar loop as its tail; minInPlaceUnrolled is the plain scalar
// loop.

const unrollLanes = 8

func dotUnrolled(a, b []float32) float32 {
	var s0, s1, s2, s3, s4, s5, s6, s7 float32
	i := 0
	for ; i+unrollLanes <= len(a); i += unrollLanes {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
		s4 += a[i+4] * b[i+4]
		s5 += a[i+5] * b[i+5]
		s6 += a[i+6] * b[i+6]
		s7 += a[i+7] * b[i+7]
	}
	sum := (s0 + s1) + (s2 + s3) + (s4 + s5) + (s6 + s7)
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func squaredL2Unrolled(a, b []float32) float32 {
	var s0, s1, s2, s3, s4, s5, s6, s7 float32
	i := 0
	for ; i+unrollLanes <= len(a); i += unrollLanes {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		d4 := a[i+4] - b[i+4]
		d5 := a[i+5] - b[i+5]
		d6 := a[i+6] - b[i+6]
		d7 := a[i+7] - b[i+7]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
		s4 += d4 * d4
		s5 += d5 * d5
		s6 += d6 * d6
		s7 += d7 * d7
	}
	sum := (s0 + s1) + (s2 + s3) + (s4 + s5) + (s6 + s7)
	for ; i < len(a); i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func sumUnrolled(v []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(v); i += 4 {
		s0 += v[i]
		s1 += v[i+1]
		s2 += v[i+2]
		s3 += v[i+3]
	}
	sum := (s0 + s1) + (s2 + s3)
	for ; i < len(v); i++ {
		sum += v[i]
	}
	return sum
}

func scaleUnrolled(v []float32, multiplier float32) {
	i := 0
	for ; i+4 <= len(v); i += 4 {
		v[i] *= multiplier
		v[i+1] *= multiplier
		v[i+2] *= multiplier
		v[i+3] *= multiplier
	}
	for ; i < len(v); i++ {
		v[i] *= multiplier
	}
}

func addInPlaceUnrolled(a, b []float32) {
	i := 0
	for ; i+4 <= len(a); i += 4 {
		a[i] += b[i]
		a[i+1] += b[i+1]
		a[i+2] += b[i+2]
		a[i+3] += b[i+3]
	}
	for ; i < len(a); i++ {
		a[i] += b[i]
	}
}

func subInPlaceUnrolled(a, b []float32) {
	i := 0
	for ; i+4 <= len(a); i += 4 {
		a[i] -= b[i]
		a[i+1] -= b[i+1]
		a[i+2] -= b[i+2]
		a[i+3] -= b[i+3]
	}
	for ; i < len(a); i++ {
		a[i] -= b[i]
	}
}

func minInPlaceUnrolled(a, b []float32) {
	for i := range a {
		if b[i] < a[i] {
			a[i] = b[i]
		}
	}
}

// assembleAndSumUnrolled keeps a four-way gather-add inner loop. A narrower
// two-lane variant was benchmarked and lost to the scalar loop, so the tail
// stays scalar.
func assembleAndSumUnrolled(data []float32, stride int, offsets []byte) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	base := 0
	for ; i+4 <= len(offsets); i += 4 {
		s0 += data[base+int(offsets[i])]
		s1 += data[base+stride+int(offsets[i+1])]
		s2 += data[base+2*stride+int(offsets[i+2])]
		s3 += data[base+3*stride+int(offsets[i+3])]
		base += 4 * stride
	}
	sum := (s0 + s1) + (s2 + s3)
	for ; i < len(offsets); i++ {
		sum += data[stride*i+int(offsets[i])]
	}
	return sum
}

func quantizePartialsUnrolled(delta float32, partials, bases []float32, out []byte) {
	codebookSize := len(partials) / len(bases)
	invDelta := 1 / delta
	for i, base := range bases {
		row := partials[i*codebookSize : (i+1)*codebookSize]
		j := 0
		for ; j+4 <= codebookSize; j += 4 {
			q0 := clampU16((row[j] - base) * invDelta)
			q1 := clampU16((row[j+1] - base) * invDelta)
			q2 := clampU16((row[j+2] - base) * invDelta)
			q3 := clampU16((row[j+3] - base) * invDelta)
			o := 2 * (i*codebookSize + j)
			binary.LittleEndian.PutUint16(out[o:], q0)
			binary.LittleEndian.PutUint16(out[o+2:], q1)
			binary.LittleEndian.PutUint16(out[o+4:], q2)
			binary.LittleEndian.PutUint16(out[o+6:], q3)
		}
		for ; j < codebookSize; j++ {
			binary.LittleEndian.PutUint16(out[2*(i*codebookSize+j):], clampU16((row[j]-base)*invDelta))
		}
	}
}

func clampU16(v float32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
