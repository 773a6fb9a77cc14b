// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux || darwin

package http1

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

func (cfg listenConfig) control(network, address string, rc syscall.RawConn) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		serr = cfg.setSockopts(int(fd))
	})
	if err != nil {
		return err
	}
	return serr
}

func (cfg listenConfig) setSockopts(fd int) error {
	if cfg.reuseAddress {
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err != nil {
			return err
		}
	}
	if cfg.reusePort {
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		if err != nil {
			return err
		}
	}
	return nil
}

// parseSignal accepts names with or without the SIG prefix, in any case.
func parseSignal(name string) (syscall.Signal, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	sig := unix.SignalNum(upper)
	if sig == 0 {
		return 0, UnknownSignalError{Name: name}
	}
	return sig, nil
}
