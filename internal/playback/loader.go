package playback

import (
	"context"
	"sync"
)

// LoadFunc performs the one-time bootstrap of the shared playback resource.
type LoadFunc func(ctx context.Context) error

type loaderState int

const (
	loaderIdle loaderState = iota
	loaderLoading
	loaderReady
	loaderFailed
)

// Loader guards a shared resource that must be brought up exactly once no
// matter how many consumers ask for it. The first EnsureReady call triggers
// the load; later callers queue until the resource signals ready. A caller
// whose context is cancelled before that signal is deregistered and its
// continuation never runs. Failure is sticky until Reset.
type Loader struct {
	mu      sync.Mutex
	load    LoadFunc
	state   loaderState
	loadErr error
	waiters map[int]chan error
	nextID  int
}

func NewLoader(load LoadFunc) *Loader {
	return &Loader{
		load:    load,
		waiters: make(map[int]chan error),
	}
}

// EnsureReady blocks until the shared resource is ready, the load fails, or
// ctx is cancelled. Exactly one underlying load runs regardless of how many
// callers arrive before readiness.
func (l *Loader) EnsureReady(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case loaderReady:
		l.mu.Unlock()
		return nil
	case loaderFailed:
		err := l.loadErr
		l.mu.Unlock()
		return err
	}

	id := l.nextID
	l.nextID++
	ch := make(chan error, 1)
	l.waiters[id] = ch

	if l.state == loaderIdle {
		l.state = loaderLoading
		// The load serves every waiter, so it runs detached from any single
		// caller's context.
		go l.run()
	}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		l.mu.Lock()
		delete(l.waiters, id)
		l.mu.Unlock()
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

// Ready reports whether the shared resource has signalled readiness.
func (l *Loader) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == loaderReady
}

// Reset clears a sticky failure so a later EnsureReady can retry the load.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == loaderFailed {
		l.state = loaderIdle
		l.loadErr = nil
	}
}

func (l *Loader) run() {
	err := l.load(context.Background())

	l.mu.Lock()
	if err != nil {
		l.state = loaderFailed
		l.loadErr = err
	} else {
		l.state = loaderReady
	}
	waiters := l.waiters
	l.waiters = make(map[int]chan error)
	l.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}
