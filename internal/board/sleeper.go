package board

import (
	"context"
	"time"
)

// timerSleeper implements Sleeper with a real timer that honors context
// cancellation, so an interrupted session never blocks on a pending delay.
type timerSleeper struct{}

// NewTimerSleeper returns the production Sleeper.
func NewTimerSleeper() Sleeper {
	return &timerSleeper{}
}

func (s *timerSleeper) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
