package limiter

import (
	"runtime"
	"time"
)

const workSlice = 10 * time.Millisecond

// CPULimiter throttles a busy loop to roughly maxPercent of one CPU by
// sleeping after every work slice. The purge engine calls Throttle once
// per visited entry.
type CPULimiter struct {
	maxPercent float64
	lastSleep  time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewCPULimiter creates a new CPU limiter. 0 or 100 and above disables throttling.
func NewCPULimiter(maxPercent float64) *CPULimiter {
	return &CPULimiter{
		maxPercent: maxPercent,
		lastSleep:  time.Now(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Enabled reports whether Throttle will ever sleep.
func (l *CPULimiter) Enabled() bool {
	return l.maxPercent > 0 && l.maxPercent < 100
}

// Throttle sleeps for (100-max)/max of a work slice once a slice has elapsed
// since the previous sleep.
func (l *CPULimiter) Throttle() {
	if !l.Enabled() {
		return
	}

	if l.now().Sub(l.lastSleep) > workSlice {
		l.sleep(l.pause())
		l.lastSleep = l.now()
	}

	runtime.Gosched()
}

func (l *CPULimiter) pause() time.Duration {
	return time.Duration(float64(workSlice) * ((100.0 - l.maxPercent) / l.maxPercent))
}

// SetMaxPercent updates the maximum CPU percentage
func (l *CPULimiter) SetMaxPercent(maxPercent float64) {
	l.maxPercent = maxPercent
}
