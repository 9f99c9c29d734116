package rates

import "sync"

// Window counts events in fixed windows of ticks.
type Window struct {
	Start uint64
	Count int
}

// Allow records one event at nowTick against a limit of max per span ticks.
// When the limit is hit, cooldown is the number of ticks until the window
// resets. span == 0 or max <= 0 disables the limit.
func (w *Window) Allow(nowTick, span uint64, max int) (ok bool, cooldown uint64) {
	if span == 0 || max <= 0 {
		return true, 0
	}
	if nowTick < w.Start || nowTick-w.Start >= span {
		w.Start = nowTick
		w.Count = 0
	}
	w.Count++
	if w.Count <= max {
		return true, 0
	}
	return false, w.Start + span - nowTick
}

// sweepAt bounds the number of idle windows a Limiter keeps around.
const sweepAt = 4096

// Limiter keeps one Window per key. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	span    uint64
	max     int
	windows map[string]*Window
}

func NewLimiter(span uint64, max int) *Limiter {
	return &Limiter{span: span, max: max, windows: map[string]*Window{}}
}

func (l *Limiter) Allow(key string, nowTick uint64) (ok bool, cooldown uint64) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		if len(l.windows) >= sweepAt {
			l.sweepLocked(nowTick)
		}
		w = &Window{Start: nowTick}
		l.windows[key] = w
	}
	return w.Allow(nowTick, l.span, l.max)
}

// sweepLocked drops windows that have already expired.
func (l *Limiter) sweepLocked(nowTick uint64) {
	for k, w := range l.windows {
		if nowTick < w.Start || nowTick-w.Start >= l.span {
			delete(l.windows, k)
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
