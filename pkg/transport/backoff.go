package transport

import (
	"math"
	"math/rand"
	"time"
)

// Default reconnect policy shared by the SSE and websocket transports.
const (
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// Backoff computes reconnect delays. The zero value uses the package
// defaults.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	NoJitter   bool // Jitter is on by default; tests turn it off.
}

// Delay returns the wait before reconnect attempt n (1-based). Jittered
// delays are scaled by a random factor in [0.5, 1.5).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	multiplier := b.Multiplier
	if multiplier < 1.0 {
		multiplier = defaultMultiplier
	}

	if attempt < 1 {
		attempt = 1
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if !b.NoJitter {
		delay *= 0.5 + rand.Float64()
	}

	return time.Duration(delay)
}
