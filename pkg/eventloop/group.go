// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package eventloop

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/z5labs/loam/internal/fixedpool"
)

// Group is a fixed set of [Loop]s handed out in round-robin order.
type Group struct {
	loops []*Loop
	next  atomic.Uint64
}

// NewGroup starts n loops. If n is not positive, [runtime.NumCPU] loops are started.
func NewGroup(n int) *Group {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	g := &Group{
		loops: make([]*Loop, n),
	}
	for i := range g.loops {
		g.loops[i] = New()
	}
	return g
}

// Len returns the number of loops in the group.
func (g *Group) Len() int {
	return len(g.loops)
}

// Next returns the next loop in round-robin order.
func (g *Group) Next() *Loop {
	n := g.next.Add(1) - 1
	return g.loops[n%uint64(len(g.loops))]
}

// Shutdown shuts every loop in the group down concurrently and
// joins any errors returned while doing so.
func (g *Group) Shutdown(ctx context.Context) error {
	tasks := make([]fixedpool.Task, len(g.loops))
	for i, l := range g.loops {
		l := l
		tasks[i] = func(ctx context.Context) error {
			return l.Shutdown(ctx)
		}
	}
	return fixedpool.Wait(ctx, tasks...)
}
