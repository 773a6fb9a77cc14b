// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package operation maps HTTP/1 requests onto typed operation handlers.
//
// Every operation is registered with [Handle] and is served in three
// steps: the request body is decoded into the operation input, the
// [Handler] is called and its output is encoded into the response. An
// input or output of [Empty] skips the matching step. Bodies are JSON
// unless the type implements [encoding.BinaryUnmarshaler] or
// [encoding.BinaryMarshaler].
//
// Outer [Middleware] wraps the whole [Router] and inner [Middleware]
// wraps a single operation.
package operation
