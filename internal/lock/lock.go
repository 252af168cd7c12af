// Package lock serializes work per logical target with a bounded wait.
package lock

import (
	"context"
	"sync"
	"time"

	"design-service/internal/models"
	"design-service/internal/util"
)

// Locker grants exclusive access to a key. Acquire waits at most the
// implementation's bound and fails with models.ErrBusy when it elapses;
// the returned release func must be called on every exit path.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker backed by one single-slot channel per key
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker with the given maximum wait
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.ref(key)

	start := time.Now()
	defer func() { util.LockWaitLatency.Observe(time.Since(start).Seconds()) }()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key)
			})
		}, nil
	case <-timer.C:
		l.unref(key)
		util.LockBusyTotal.Inc()
		return nil, models.ErrBusy
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
