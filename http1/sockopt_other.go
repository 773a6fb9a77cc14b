// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !linux && !darwin

package http1

import (
	"errors"
	"strings"
	"syscall"
)

var errSockoptUnsupported = errors.New("http1: socket reuse options are not supported on this platform")

func (cfg listenConfig) control(network, address string, rc syscall.RawConn) error {
	if cfg.reuseAddress || cfg.reusePort {
		return errSockoptUnsupported
	}
	return nil
}

func parseSignal(name string) (syscall.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG") {
	case "INT":
		return syscall.SIGINT, nil
	case "TERM":
		return syscall.SIGTERM, nil
	case "HUP":
		return syscall.SIGHUP, nil
	case "QUIT":
		return syscall.SIGQUIT, nil
	default:
		return 0, UnknownSignalError{Name: name}
	}
}
