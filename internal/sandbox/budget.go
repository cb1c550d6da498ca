package sandbox

import (
	"context"
	"sync/atomic"
	"time"
)

// parentPollInterval controls how often the match context is polled; checking
// the abort flag is cheap and happens on every charge.
const parentPollInterval = 1024

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// stepBudget is installed with LState.SetContext for the duration of one
// call. The interpreter consults Done before every VM instruction, so
// counting those calls gives an exact, host-independent instruction count.
//
// A nil channel from Done never becomes ready, which lets the interpreter
// fall through its select and keep running.
//
// Library functions implemented in Go bill their work through charge, so a
// pattern match or a large copy costs steps in proportion to its size.
type stepBudget struct {
	parent   context.Context
	abort    *atomic.Bool
	limit    int64
	steps    int64
	nextPoll int64
	err      error
}

func newStepBudget(parent context.Context, limit int64, abort *atomic.Bool) *stepBudget {
	return &stepBudget{parent: parent, abort: abort, limit: limit}
}

func (b *stepBudget) Deadline() (time.Time, bool) { return time.Time{}, false }

func (b *stepBudget) Value(key any) any { return b.parent.Value(key) }

func (b *stepBudget) Err() error { return b.err }

func (b *stepBudget) Done() <-chan struct{} {
	if !b.charge(1) {
		return closedDone
	}
	return nil
}

// charge adds n steps and reports whether the call may continue. Once it
// returns false every later charge and every Done fails as well.
func (b *stepBudget) charge(n int64) bool {
	if b.err != nil {
		return false
	}
	b.steps += n
	if b.limit > 0 && b.steps > b.limit {
		b.err = ErrStepLimit
		return false
	}
	if b.abort.Load() {
		b.err = ErrAborted
		return false
	}
	if b.steps >= b.nextPoll {
		b.nextPoll = b.steps + parentPollInterval
		select {
		case <-b.parent.Done():
			b.err = ErrAborted
			return false
		default:
		}
	}
	return true
}

// fail ends the call at its next instruction with err.
func (b *stepBudget) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
