// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenWithBacklog creates the socket by hand since the net package
// always uses the system wide backlog.
func listenWithBacklog(addr string, cfg listenConfig) (ln net.Listener, err error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	fd, sa, err := tcpSocket(port)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()

	err = cfg.setSockopts(fd)
	if err != nil {
		return nil, os.NewSyscallError("setsockopt", err)
	}
	err = unix.Bind(fd, sa)
	if err != nil {
		return nil, os.NewSyscallError("bind", err)
	}
	err = unix.Listen(fd, cfg.backlog)
	if err != nil {
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "tcp:"+addr)
	defer f.Close()

	// FileListener dups the descriptor so f can always be closed
	return net.FileListener(f)
}

// tcpSocket prefers a dual stack IPv6 socket and falls back to IPv4.
func tcpSocket(port int) (int, unix.Sockaddr, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err == nil {
		err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
		if err == nil {
			return fd, &unix.SockaddrInet6{Port: port}, nil
		}
		unix.Close(fd)
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, err
	}
	return fd, &unix.SockaddrInet4{Port: port}, nil
}
