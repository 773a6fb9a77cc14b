// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import "sync"

// connTracker counts open connections. Once quiescing it refuses new
// connections and closes drained when the last open one is removed.
type connTracker struct {
	mu        sync.Mutex
	conns     map[*conn]struct{}
	quiescing bool
	drained   chan struct{}
}

func newConnTracker() *connTracker {
	return &connTracker{
		conns:   make(map[*conn]struct{}),
		drained: make(chan struct{}),
	}
}

// add reports false if the tracker is quiescing, in which case the
// caller owns closing c.
func (t *connTracker) add(c *conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quiescing {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *connTracker) remove(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[c]; !ok {
		return
	}
	delete(t.conns, c)
	if t.quiescing && len(t.conns) == 0 {
		close(t.drained)
	}
}

func (t *connTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// quiesce returns the connections open at the time of the call.
func (t *connTracker) quiesce() []*conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quiescing {
		return nil
	}
	t.quiescing = true

	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	if len(conns) == 0 {
		close(t.drained)
	}
	return conns
}

// done is closed once quiescing and every connection has been removed.
func (t *connTracker) done() <-chan struct{} {
	return t.drained
}
