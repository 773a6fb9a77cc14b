// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package loam provides the application shell for services built on the
// [github.com/z5labs/loam/http1] server.
//
// An [App] reads and merges YAML configs, builds every registered
// [Runtime], calls the [Lifecycle] hooks and runs the runtimes until they
// return or the process receives a shutdown signal.
//
//	app := loam.New(
//	    loam.Config(bytes.NewReader(configBytes)),
//	    loam.WithRuntimeBuilderFunc(func(ctx context.Context) (loam.Runtime, error) {
//	        var cfg http1.Config
//	        err := loam.ConfigFromContext(ctx).UnmarshalKey("http", &cfg)
//	        if err != nil {
//	            return nil, err
//	        }
//	        opts, err := cfg.Options()
//	        if err != nil {
//	            return nil, err
//	        }
//	        return http1.NewRuntime(router, opts...)
//	    }),
//	)
//	err := app.Run(os.Args[1:]...)
package loam
