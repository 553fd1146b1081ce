package outbox

import (
	"errors"
	"time"
)

// DefaultLadder is the retry schedule indexed by failed attempt count.
var DefaultLadder = []time.Duration{
	20 * time.Second,
	45 * time.Second,
	90 * time.Second,
	180 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// BackoffPolicy maps a failed attempt count onto the delay before the next
// attempt. Attempts past the end of the ladder reuse the last step.
type BackoffPolicy struct {
	ladder []time.Duration
}

// NewBackoffPolicy copies the ladder; an empty ladder falls back to DefaultLadder.
func NewBackoffPolicy(ladder []time.Duration) (*BackoffPolicy, error) {
	if len(ladder) == 0 {
		ladder = DefaultLadder
	}
	steps := make([]time.Duration, len(ladder))
	for i, step := range ladder {
		if step <= 0 {
			return nil, errors.New("backoff steps must be positive")
		}
		steps[i] = step
	}
	return &BackoffPolicy{ladder: steps}, nil
}

// Delay returns the wait after the given number of failed attempts (1-based).
func (p *BackoffPolicy) Delay(attempts int) time.Duration {
	ladder := p.steps()
	if attempts < 1 {
		attempts = 1
	}
	idx := attempts - 1
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}
	return ladder[idx]
}

// NextAttemptAt returns when a row that has failed attempts times becomes due.
func (p *BackoffPolicy) NextAttemptAt(now time.Time, attempts int) time.Time {
	return now.Add(p.Delay(attempts)).UTC()
}

// Max is the capped delay.
func (p *BackoffPolicy) Max() time.Duration {
	ladder := p.steps()
	return ladder[len(ladder)-1]
}

func (p *BackoffPolicy) steps() []time.Duration {
	if p == nil || len(p.ladder) == 0 {
		return DefaultLadder
	}
	return p.ladder
}
