package scheduler

import "time"

// Clock abstracts ticker creation so tests can drive sweeps
// deterministically.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker is the minimal surface of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// RealClock returns a Clock backed by the runtime timer.
func RealClock() Clock { return realClock{} }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
