//go:build arm64

package simd

func init() {
	// ASIMD is mandatory on ARMv8, which is the floor for GOARCH=arm64.
	hasWideSIMD = true
	initCapabilities()
}
