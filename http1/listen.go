// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"net"
)

type listenConfig struct {
	backlog      int
	reuseAddress bool
	reusePort    bool
}

func listen(ctx context.Context, addr string, cfg listenConfig) (net.Listener, error) {
	if cfg.backlog > 0 {
		return listenWithBacklog(addr, cfg)
	}

	lc := net.ListenConfig{
		Control: cfg.control,
	}
	return lc.Listen(ctx, "tcp", addr)
}
