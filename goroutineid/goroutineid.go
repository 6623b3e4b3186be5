// Package goroutineid identifies the calling goroutine.
//
// Identity is used to enforce thread affinity (an event loop may only be
// driven by the goroutine that started it) and to key per-goroutine
// registries. It is not intended for hot paths: each call formats a stack
// header.
package goroutineid

import (
	"runtime"
)

// Current returns the calling goroutine's ID. IDs are never zero, so zero
// may be used as "no goroutine".
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse extracts the ID from a "goroutine 123 [running]:" header.
func parse(b []byte) uint64 {
	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	var id uint64
	for i := len(prefix); i < len(b); i++ {
		if b[i] >= '0' && b[i] <= '9' {
			id = id*10 + uint64(b[i]-'0')
		} else {
			break
		}
	}
	return id
}
