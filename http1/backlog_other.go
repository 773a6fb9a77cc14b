// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !linux

package http1

import (
	"context"
	"net"
)

// listenWithBacklog falls back to the system backlog.
func listenWithBacklog(addr string, cfg listenConfig) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: cfg.control,
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
