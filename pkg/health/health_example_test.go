// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package health

import (
	"context"
	"fmt"
)

func ExampleBinary() {
	var accepting Binary
	fmt.Println(accepting.Healthy(context.Background()))

	// e.g. the server started draining connections
	accepting.Toggle()
	fmt.Println(accepting.Healthy(context.Background()))
	// Output: true
	// false
}

func ExampleAnd() {
	var started, accepting Binary
	accepting.MarkUnhealthy()

	ready := And(&started, &accepting)
	fmt.Println(ready.Healthy(context.Background()))
	// Output: false
}

func ExampleOr() {
	var primary, fallback Binary
	primary.MarkUnhealthy()

	upstream := Or(&primary, &fallback)
	fmt.Println(upstream.Healthy(context.Background()))
	// Output: true
}
