// Package gid extracts the calling goroutine's runtime id. Go exposes no
// public goroutine-id API; parsing it out of runtime.Stack is the
// standard workaround, used here only to detect reentrant callers (a
// strand destroying itself from within one of its own tasks, a signal
// subscriber disconnecting itself from within its own handler) — never
// as a general scheduling primitive.
package gid

import (
	"bytes"
	"runtime"
)

// Current returns an identifier for the calling goroutine, stable for
// the lifetime of that goroutine.
func Current() string {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := bytes.Fields(buf[:n])
	if len(fields) >= 2 {
		return string(fields[1])
	}
	return ""
}
