package ssh

import "sync"

// safeBuffer is a goroutine-safe bytes buffer used for capturing
// stdout/stderr from SSH sessions. RunCommand may be reading it from the
// cancellation path while the session goroutine is still writing.
type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
