// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_Run(t *testing.T) {
	t.Run("will return nil", func(t *testing.T) {
		t.Run("if the context is cancelled", func(t *testing.T) {
			rt, err := NewRuntime(respondOK(), ListenOnPort(0), ShutdownSignals(), EventLoops(1))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			errs := make(chan error, 1)
			go func() {
				errs <- rt.Run(ctx)
			}()

			require.Eventually(t, func() bool {
				return rt.Server().State() == ServerRunning
			}, 5*time.Second, 10*time.Millisecond)
			cancel()

			select {
			case err := <-errs:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("runtime did not return")
			}
			assert.Equal(t, ServerShutDown, rt.Server().State())
		})

		t.Run("if the server is shut down directly", func(t *testing.T) {
			rt, err := NewRuntime(respondOK(), ListenOnPort(0), ShutdownSignals(), EventLoops(1))
			require.NoError(t, err)

			errs := make(chan error, 1)
			go func() {
				errs <- rt.Run(context.Background())
			}()

			require.Eventually(t, func() bool {
				return rt.Server().State() == ServerRunning
			}, 5*time.Second, 10*time.Millisecond)
			require.NoError(t, rt.Server().Shutdown())

			select {
			case err := <-errs:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("runtime did not return")
			}
		})
	})

	t.Run("will return the deadline error", func(t *testing.T) {
		t.Run("if connections do not drain in time", func(t *testing.T) {
			received := make(chan struct{}, 1)
			rt, err := NewRuntime(
				HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
					received <- struct{}{}
				}),
				ListenOnPort(0),
				ShutdownSignals(),
				EventLoops(1),
				ShutdownTimeout(50*time.Millisecond),
			)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			errs := make(chan error, 1)
			go func() {
				errs <- rt.Run(ctx)
			}()

			require.Eventually(t, func() bool {
				return rt.Server().Addr() != nil
			}, 5*time.Second, 10*time.Millisecond)

			port := rt.Server().Addr().(*net.TCPAddr).Port
			nc, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
			require.NoError(t, err)
			defer nc.Close()

			req, err := http.NewRequest(http.MethodGet, "http://localhost/hang", nil)
			require.NoError(t, err)
			require.NoError(t, req.Write(nc))
			<-received

			cancel()

			select {
			case err := <-errs:
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			case <-time.After(5 * time.Second):
				t.Fatal("runtime did not return")
			}
			assert.Equal(t, ServerShuttingDown, rt.Server().State())
		})
	})
}
