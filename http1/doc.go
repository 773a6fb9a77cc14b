// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package http1 implements the connection and request lifecycle of an
// HTTP/1 server.
//
// Every accepted connection is bound to a single [eventloop.Loop] for its
// whole life. Protocol events parsed from the connection are executed on
// that loop by a [ConnectionHandler], which hands complete requests to a
// [Handler] together with a [ResponseWriter]. The writer may be completed
// from any goroutine; the actual write is always performed on the loop.
//
// A [Server] owns the listener and, unless one is shared with it, the
// loop group. Shutting it down stops accepting connections and waits for
// every open connection to finish its in-flight request before releasing
// resources and notifying waiters.
package http1
