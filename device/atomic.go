package device

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// AtomicAddFloat32 adds delta to *addr with a compare-and-swap loop, the same contract as
// a device float atomic add. Concurrent adds to one address are never lost; their order is
// unspecified.
func AtomicAddFloat32(addr *float32, delta float32) {
	bits := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(bits)
		updated := math.Float32bits(math.Float32frombits(old) + delta)
		if atomic.CompareAndSwapUint32(bits, old, updated) {
			return
		}
	}
}
