package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keepmind9/statebot/internal/logger"
	"github.com/sirupsen/logrus"
)

// AlignKind selects which wall-clock instant a timer first fires at
type AlignKind int

const (
	// AlignNone fires immediately
	AlignNone AlignKind = iota
	// AlignDaily fires at Hour:Minute:Second
	AlignDaily
	// AlignHourly fires at Minute:Second of an hour
	AlignHourly
	// AlignMinute fires at Second of a minute
	AlignMinute
)

// Alignment describes the first firing instant of a timer
type Alignment struct {
	Kind   AlignKind
	Hour   int
	Minute int
	Second int
}

// TimerFunc is the body of a timer. It has no conversation of its own; use
// Engine.WithSession to act on one.
type TimerFunc func(ctx context.Context, e *Engine) error

// Timer is a recurring action declared by a plugin
type Timer struct {
	Plugin   string
	Name     string
	Interval time.Duration
	Align    Alignment
	Handler  TimerFunc
}

func (t *Timer) validate() error {
	if t.Interval <= 0 {
		return fmt.Errorf("timer %s/%s: interval must be positive", t.Plugin, t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("timer %s/%s: nil handler", t.Plugin, t.Name)
	}
	a := t.Align
	if a.Hour < 0 || a.Hour > 23 || a.Minute < 0 || a.Minute > 59 || a.Second < 0 || a.Second > 59 {
		return fmt.Errorf("timer %s/%s: invalid alignment %02d:%02d:%02d", t.Plugin, t.Name, a.Hour, a.Minute, a.Second)
	}
	return nil
}

// firstDelay returns how long to wait from now until the first aligned
// instant, on now's wall clock. An instant equal to now is pushed one full
// period ahead, so the result lies in (0, period] for aligned timers.
func firstDelay(now time.Time, a Alignment) time.Duration {
	y, mo, d := now.Date()
	h := now.Hour()
	loc := now.Location()

	var next time.Time
	switch a.Kind {
	case AlignDaily:
		next = time.Date(y, mo, d, a.Hour, a.Minute, a.Second, 0, loc)
		if !next.After(now) {
			next = time.Date(y, mo, d+1, a.Hour, a.Minute, a.Second, 0, loc)
		}
	case AlignHourly:
		next = time.Date(y, mo, d, h, a.Minute, a.Second, 0, loc)
		if !next.After(now) {
			next = next.Add(time.Hour)
		}
	case AlignMinute:
		next = time.Date(y, mo, d, h, now.Minute(), a.Second, 0, loc)
		if !next.After(now) {
			next = next.Add(time.Minute)
		}
	default:
		return 0
	}
	return next.Sub(now)
}

// TimerScheduler runs the timers of every registered plugin
type TimerScheduler struct {
	engine  *Engine
	mu      sync.Mutex
	timers  []*Timer
	started bool
	wg      sync.WaitGroup
	now     func() time.Time
}

func newTimerScheduler(e *Engine) *TimerScheduler {
	return &TimerScheduler{engine: e, now: time.Now}
}

func (s *TimerScheduler) add(timers ...*Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, timers...)
}

// Timers returns the declared timers
func (s *TimerScheduler) Timers() []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Timer(nil), s.timers...)
}

// Start launches one loop per timer. Later calls do nothing. The loops
// end when ctx is cancelled.
func (s *TimerScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, t := range s.timers {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	logger.WithField("timers", len(s.timers)).Info("timers-started")
}

// Wait blocks until every loop and every in-flight firing has returned
func (s *TimerScheduler) Wait() {
	s.wg.Wait()
}

func (s *TimerScheduler) loop(ctx context.Context, t *Timer) {
	defer s.wg.Done()

	delay := firstDelay(s.now(), t.Align)
	logger.WithFields(logrus.Fields{
		"plugin": t.Plugin,
		"timer":  t.Name,
		"delay":  delay.String(),
	}).Debug("timer-scheduled")

	if !sleepContext(ctx, delay) {
		return
	}
	for {
		s.fire(ctx, t)
		if !sleepContext(ctx, t.Interval) {
			return
		}
	}
}

// fire runs the handler detached from the loop so a slow handler does not
// shift the schedule
func (s *TimerScheduler) fire(ctx context.Context, t *Timer) {
	timerFires.WithLabelValues(t.Plugin).Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"plugin": t.Plugin,
					"timer":  t.Name,
					"panic":  r,
				}).Error("timer-panic-recovered")
			}
		}()
		logger.WithFields(logrus.Fields{
			"plugin": t.Plugin,
			"timer":  t.Name,
		}).Debug("timer-fired")
		if err := t.Handler(ctx, s.engine); err != nil {
			logger.WithFields(logrus.Fields{
				"plugin": t.Plugin,
				"timer":  t.Name,
				"error":  err,
			}).Error("timer-failed")
		}
	}()
}

// sleepContext waits for d or until ctx is done. It reports false when ctx
// ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
