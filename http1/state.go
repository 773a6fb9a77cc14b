// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

// ConnectionState is the position of a connection in the request/response cycle.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateAwaitingBody
	StateSendingResponse
)

// String implements the [fmt.Stringer] interface.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBody:
		return "awaitingBody"
	case StateSendingResponse:
		return "sendingResponse"
	default:
		return "unknown"
	}
}

// stateMachine only allows idle -> awaitingBody -> sendingResponse -> idle.
// Any other transition panics with a SequencingFault.
type stateMachine struct {
	current ConnectionState
}

func (m *stateMachine) requestReceived() {
	m.transition(StateIdle, StateAwaitingBody, "requestReceived")
}

func (m *stateMachine) requestComplete() {
	m.transition(StateAwaitingBody, StateSendingResponse, "requestComplete")
}

func (m *stateMachine) responseComplete() {
	m.transition(StateSendingResponse, StateIdle, "responseComplete")
}

func (m *stateMachine) transition(from, to ConnectionState, name string) {
	if m.current != from {
		panic(SequencingFault{From: m.current, Transition: name})
	}
	m.current = to
}
