// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"os"
	"time"
)

// Config is the config file representation of the [Server] options.
// Zero values keep the option defaults.
type Config struct {
	Port         uint `config:"port"`
	Backlog      int  `config:"backlog"`
	ReuseAddress bool `config:"reuseAddress"`
	ReusePort    bool `config:"reusePort"`
	EventLoops   int  `config:"eventLoops"`

	// Signals are names like SIGINT or TERM.
	Signals []string `config:"signals"`

	ChunkSize       int           `config:"chunkSize"`
	MaxBodySize     int64         `config:"maxBodySize"`
	ReadBufferSize  int           `config:"readBufferSize"`
	WriteTimeout    time.Duration `config:"writeTimeout"`
	ShutdownTimeout time.Duration `config:"shutdownTimeout"`
}

// Options converts cfg into [ServerOption]s.
func (cfg Config) Options() ([]ServerOption, error) {
	opts := []ServerOption{
		Backlog(cfg.Backlog),
		ReuseAddress(cfg.ReuseAddress),
		ReusePort(cfg.ReusePort),
		EventLoops(cfg.EventLoops),
		ReadBufferSize(cfg.ReadBufferSize),
	}
	if cfg.Port > 0 {
		opts = append(opts, ListenOnPort(cfg.Port))
	}
	if cfg.ChunkSize != 0 {
		opts = append(opts, ChunkSize(cfg.ChunkSize))
	}
	if cfg.MaxBodySize != 0 {
		opts = append(opts, MaxBodySize(cfg.MaxBodySize))
	}
	if cfg.WriteTimeout > 0 {
		opts = append(opts, WriteTimeout(cfg.WriteTimeout))
	}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, ShutdownTimeout(cfg.ShutdownTimeout))
	}

	if len(cfg.Signals) > 0 {
		sigs := make([]os.Signal, len(cfg.Signals))
		for i, name := range cfg.Signals {
			sig, err := parseSignal(name)
			if err != nil {
				return nil, err
			}
			sigs[i] = sig
		}
		opts = append(opts, ShutdownSignals(sigs...))
	}
	return opts, nil
}
