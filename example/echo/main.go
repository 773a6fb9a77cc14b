// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	_ "embed"
	"os"

	"github.com/z5labs/loam"
	"github.com/z5labs/loam/example/echo/app"
	"github.com/z5labs/loam/pkg/lifecycle"
)

//go:embed config.yaml
var cfgSrc []byte

func main() {
	err := loam.New(
		loam.Name("echo"),
		loam.Config(bytes.NewReader(cfgSrc)),
		loam.Hooks(lifecycle.ManageOTel(app.OTel)),
		loam.WithRuntimeBuilderFunc(app.Init),
		// the http1 server handles its own shutdown signals
		loam.Signals(),
	).Run(os.Args[1:]...)
	if err != nil {
		os.Exit(1)
	}
}
