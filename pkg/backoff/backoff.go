package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy calculates the delay before a retry attempt.
// Implementations must be safe for concurrent use.
type Strategy interface {
	// NextInterval returns the backoff duration for the given attempt.
	// Attempt starts at 1 for the first retry.
	NextInterval(attempt int) time.Duration
}

// Exponential implements exponential backoff with jitter. Jitter spreads
// retry times so restarting components don't hammer a recovering dependency
// in lockstep.
type Exponential struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval).
func (e Exponential) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = time.Second
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if e.JitterFactor > 0 {
		randomJitter := (rand.Float64()*2 - 1) * e.JitterFactor
		interval = interval * (1 + randomJitter)
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}

	return time.Duration(interval)
}

// Fixed implements a constant delay between retries.
type Fixed struct {
	Interval time.Duration
}

// NextInterval always returns the same interval regardless of attempt number.
func (f Fixed) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// Default returns the exponential strategy used for restarting crashed
// components and retrying outbound notification delivery.
func Default() Strategy {
	return Exponential{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
