package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/wb-go/wbf/zlog"
)

// ErrCancelled is the error passed to on_error when a group is cancelled
// via Cancel rather than by a task failing.
var ErrCancelled = errors.New("task group cancelled")

// state mirrors the three-state machine from the group's invariants:
// Running is the only non-terminal state.
type state int32

const (
	stateRunning state = iota
	stateDoneOk
	stateDoneError
)

// Group tracks outstanding tasks submitted to a shared Pool and guarantees
// that exactly one of onError or onFinish runs, exactly once, regardless of
// how many tasks are in flight or in what order they complete.
//
// Unlike the C++ original, nothing here needs to keep the group alive
// manually: a Group stays reachable for as long as any submitted closure
// references it, and Go's garbage collector reclaims it once the last such
// closure returns.
type Group struct {
	pool    *Pool
	state   atomic.Int32
	pending atomic.Int64

	onError  func(error)
	onFinish func()
}

// NewGroup creates a group bound to pool. onError is invoked at most once,
// with the first error raised by any task. onFinish is invoked at most
// once, when the pending count reaches zero while the group is still
// Running. Exactly one of the two ever runs.
func NewGroup(p *Pool, onError func(error), onFinish func()) *Group {
	g := &Group{pool: p, onError: onError, onFinish: onFinish}
	g.state.Store(int32(stateRunning))

	runtime.SetFinalizer(g, func(g *Group) {
		if g.pending.Load() > 0 {
			zlog.Logger.Warn().
				Int64("pending", g.pending.Load()).
				Msg("task group garbage collected with pending tasks")
		}
	})

	return g
}

// AddTask submits f to the underlying pool under this group's accounting.
// Calling AddTask once the group has reached DoneOk is a programming error
// and panics. Calling it once the group has reached DoneError is a no-op:
// the task is silently dropped.
func (g *Group) AddTask(f func() error) {
	switch state(g.state.Load()) {
	case stateDoneOk:
		panic("pool: AddTask called on a group that already finished successfully")
	case stateDoneError:
		return
	}

	g.pending.Add(1)
	g.pool.Submit(func() { g.runOne(f) })
}

func (g *Group) runOne(f func() error) {
	if state(g.state.Load()) != stateRunning {
		g.pending.Add(-1)
		return
	}

	err := g.invoke(f)
	if err != nil {
		g.pending.Add(-1)
		if g.state.CompareAndSwap(int32(stateRunning), int32(stateDoneError)) {
			if g.onError != nil {
				g.onError(err)
			}
		} else {
			zlog.Logger.Err(err).Msg("task errored after group already reached a terminal state")
		}
		return
	}

	if remaining := g.pending.Add(-1); remaining == 0 {
		if g.state.CompareAndSwap(int32(stateRunning), int32(stateDoneOk)) {
			if g.onFinish != nil {
				g.onFinish()
			}
		}
		// else: the group already errored via another task; nothing to do.
	}
}

// invoke runs f, converting a panic into an error so a single buggy task
// cannot take down a pool worker permanently.
func (g *Group) invoke(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return f()
}

// Cancel attempts to transition the group to DoneError with ErrCancelled.
// It is a no-op if the group has already reached a terminal state.
func (g *Group) Cancel() {
	if g.state.CompareAndSwap(int32(stateRunning), int32(stateDoneError)) {
		if g.onError != nil {
			g.onError(ErrCancelled)
		}
	}
}

// Pending returns the current count of outstanding tasks, for tests.
func (g *Group) Pending() int64 {
	return g.pending.Load()
}
