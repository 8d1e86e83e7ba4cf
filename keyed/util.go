package keyed

import "fmt"

// addrString returns a stable per-process identity string for p, used to
// namespace this engine's maintenance registration.
func addrString(p any) string {
	return fmt.Sprintf("%p", p)
}
