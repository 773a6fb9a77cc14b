// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package eventloop provides single goroutine executors which serialize
// all work submitted to them.
//
// A [Loop] is the designated execution context for every connection bound
// to it. Work is handed to a [Loop] with [Loop.Execute] and code running
// inside a task can detect that it is on the loop with [InEventLoop].
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by [Loop.Execute] once the [Loop] has been shut down.
var ErrClosed = errors.New("eventloop: loop is closed")

// Task is a unit of work executed on a [Loop].
type Task func(context.Context)

type marker struct {
	loop *Loop
}

type markerKey struct{}

// Loop executes submitted tasks one at a time, in submission order,
// on a single dedicated goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []queuedTask
	closed bool

	wake chan struct{}
	done chan struct{}

	current atomic.Pointer[marker]
}

type queuedTask struct {
	ctx  context.Context
	task Task
}

// New starts a new [Loop].
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Execute queues the task to run on the loop. The given context is passed
// through to the task with the loop's identity attached. Execute never
// blocks, even when called from inside a task running on the same loop.
func (l *Loop) Execute(ctx context.Context, task Task) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, queuedTask{ctx: ctx, task: task})
	l.mu.Unlock()

	l.signal()
	return nil
}

// Shutdown stops the loop from accepting new tasks and waits until every
// already queued task has been executed, or the context is done.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.signal()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return nil
	}
}

// Done is closed after the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// InEventLoop reports whether ctx belongs to a task which is currently
// being executed by l. The capability only holds for the duration of the
// task, so a context retained after the task returns reports false.
func InEventLoop(ctx context.Context, l *Loop) bool {
	if ctx == nil || l == nil {
		return false
	}
	m, ok := ctx.Value(markerKey{}).(*marker)
	if !ok || m == nil || m.loop != l {
		return false
	}
	return l.current.Load() == m
}

// Detach returns a copy of ctx which no longer identifies any running task.
// A task context handed to another goroutine must be detached, otherwise
// [InEventLoop] reports true there for as long as the task runs.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, markerKey{}, (*marker)(nil))
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		if len(tasks) == 0 {
			if closed {
				return
			}
			<-l.wake
			continue
		}

		for i, t := range tasks {
			l.runTask(t)

			// release references held by the batch as soon as possible
			tasks[i] = queuedTask{}
		}
	}
}

func (l *Loop) runTask(t queuedTask) {
	m := &marker{loop: l}
	l.current.Store(m)
	defer l.current.Store(nil)

	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	t.task(context.WithValue(ctx, markerKey{}, m))
}
