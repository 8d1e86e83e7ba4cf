package genpool

import (
	"fmt"
	"runtime"
)

// addrString returns a stable per-process identity string for p, used to
// namespace this engine's maintenance registration. Per spec.md §9, the
// core must tolerate hosts without a reliable stack mechanism; pointer
// identity is always available regardless.
func addrString(p any) string {
	return fmt.Sprintf("%p", p)
}

// captureCallSite returns the call stack starting at the caller of the
// function that calls it: called from borrow, the stack starts at
// Borrow/BorrowWithTimeout; called from create, at whichever of borrow,
// AddObject or ensureIdle asked for the object. When enabled is false,
// capture is skipped entirely and nil is returned, since it is opt-in and
// expensive.
func captureCallSite(enabled bool) []byte {
	if !enabled {
		return nil
	}
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	buf := make([]byte, 0, 512)
	for {
		frame, more := frames.Next()
		buf = append(buf, fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)...)
		if !more {
			break
		}
	}
	return buf
}
