// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of tasks concurrently.
package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/loam/internal/try"
)

// Task is a unit of work run by [Wait].
type Task func(context.Context) error

// Wait runs every task on its own goroutine and blocks until all of them
// have returned. The first failing task cancels the context shared by
// the others. Panics are recovered as [try.PanicError]s and all
// errors are joined together.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()

			err := run(ctx, t)
			if err == nil {
				return
			}
			errs[i] = err
			cancel(err)
		}(i, task)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func run(ctx context.Context, t Task) (err error) {
	defer try.Recover(&err)

	return t(ctx)
}
