// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

// KeepAliveStatus records whether a connection stays open after the
// current response. It is shared by a [ConnectionHandler] and the
// [ResponseWriter]s it creates and must only be used on the
// connection's loop.
type KeepAliveStatus struct {
	keepAlive bool
}

func newKeepAliveStatus() *KeepAliveStatus {
	return &KeepAliveStatus{keepAlive: true}
}

// KeepAlive reports whether the connection should remain open.
func (s *KeepAliveStatus) KeepAlive() bool {
	return s.keepAlive
}

func (s *KeepAliveStatus) set(keepAlive bool) {
	s.keepAlive = keepAlive
}

// disable forces the connection to close once the in-flight response
// has been written.
func (s *KeepAliveStatus) disable() {
	s.keepAlive = false
}
