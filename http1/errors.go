// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned by [Server.Shutdown] if [Server.Start] was never called.
var ErrNotStarted = errors.New("http1: server has not been started")

// SequencingFault is the panic value raised when a connection receives
// protocol events out of order. It is never recovered.
type SequencingFault struct {
	From       ConnectionState
	Transition string
}

// Error implements the [builtin.error] interface.
func (e SequencingFault) Error() string {
	return fmt.Sprintf("http1: invalid connection state transition %s from %s", e.Transition, e.From)
}

// ListenError is returned by [Server.Start] if the listener could not be bound.
type ListenError struct {
	Addr  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ListenError) Error() string {
	return fmt.Sprintf("http1: failed to listen on %s: %s", e.Addr, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ListenError) Unwrap() error {
	return e.Cause
}

// UnknownSignalError is returned when a configured signal name can not be resolved.
type UnknownSignalError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e UnknownSignalError) Error() string {
	return fmt.Sprintf("http1: unknown signal: %s", e.Name)
}
