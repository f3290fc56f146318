package ratelimit

import (
	"github.com/go-chi/httprate"
)

// Backend supplies the counter a Limiter counts against. Counters must count
// atomically per key so concurrent requests never under-count.
type Backend interface {
	NewCounter(policy Policy) httprate.LimitCounter
}

type memoryBackend struct{}

// MemoryBackend keeps counters in process memory. Counters are lost on restart
// and are not shared between instances.
func MemoryBackend() Backend {
	return memoryBackend{}
}

func (memoryBackend) NewCounter(policy Policy) httprate.LimitCounter {
	return httprate.NewLocalLimitCounter(policy.Window)
}
