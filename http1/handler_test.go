// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/z5labs/loam/pkg/eventloop"
	"github.com/z5labs/loam/pkg/noop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type recordedWrite struct {
	part        ResponsePart
	hasCallback bool
}

type recordingOutbound struct {
	mu     sync.Mutex
	writes []recordedWrite
	closes int
	err    error

	// hold defers completion callbacks until release is called.
	hold    bool
	pending []func(error)
}

func (o *recordingOutbound) Write(part ResponsePart, onComplete func(error)) {
	o.mu.Lock()
	o.writes = append(o.writes, recordedWrite{part: part, hasCallback: onComplete != nil})
	err := o.err
	if o.hold && onComplete != nil {
		o.pending = append(o.pending, onComplete)
		onComplete = nil
	}
	o.mu.Unlock()

	if onComplete != nil {
		onComplete(err)
	}
}

// release completes every held write with err.
func (o *recordingOutbound) release(err error) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, f := range pending {
		f(err)
	}
}

func (o *recordingOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return nil
}

func (o *recordingOutbound) Writes() []recordedWrite {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recordedWrite(nil), o.writes...)
}

func (o *recordingOutbound) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

type testConn struct {
	t    *testing.T
	loop *eventloop.Loop
	out  *recordingOutbound
	h    *ConnectionHandler

	idles  atomic.Int32
	closes atomic.Int32
}

func newTestConn(t *testing.T, handler Handler, opts ...func(*connectionConfig)) *testConn {
	loop := eventloop.New()
	t.Cleanup(func() {
		loop.Shutdown(context.Background())
	})

	tel, err := newTelemetry(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), propagation.TraceContext{})
	require.NoError(t, err)

	tc := &testConn{
		t:    t,
		loop: loop,
		out:  &recordingOutbound{},
	}
	cfg := connectionConfig{
		loop:    loop,
		out:     tc.out,
		handler: handler,
		log:     noop.Logger(),
		tel:     tel,
		onIdle: func() {
			tc.idles.Add(1)
		},
		onClose: func() {
			tc.closes.Add(1)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	tc.h = newConnectionHandler(cfg)
	return tc
}

// run executes f on the connection's loop and waits for it to return.
func (tc *testConn) run(f func(ctx context.Context, h *ConnectionHandler)) {
	tc.t.Helper()

	done := make(chan struct{})
	err := tc.loop.Execute(context.Background(), func(ctx context.Context) {
		defer close(done)
		f(ctx, tc.h)
	})
	require.NoError(tc.t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		tc.t.Fatal("task never finished on the loop")
	}
}

// flush waits for every task queued so far to finish.
func (tc *testConn) flush() {
	tc.t.Helper()
	tc.run(func(context.Context, *ConnectionHandler) {})
}

func getHead(target string, keepAlive bool) *RequestHead {
	return &RequestHead{
		Method:     http.MethodGet,
		Target:     target,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		KeepAlive:  keepAlive,
	}
}

func okComponents() ResponseComponents {
	return ResponseComponents{
		Body: &ResponseBody{
			ContentType: "text/plain",
			Data:        []byte("ok"),
		},
	}
}

func respondOK() Handler {
	return HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
		w.Complete(ctx, http.StatusOK, okComponents())
	})
}

func TestConnectionHandler_EndReceived(t *testing.T) {
	t.Run("will pass the concatenated body to the handler", func(t *testing.T) {
		var got []byte
		tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
			got = body
			w.Complete(ctx, http.StatusOK, ResponseComponents{})
		}))

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/", true))
			h.BodyReceived(ctx, []byte("hello"))
			h.BodyReceived(ctx, []byte(", "))
			h.BodyReceived(ctx, []byte("world"))
			h.EndReceived(ctx)
		})

		assert.Equal(t, "hello, world", string(got))
	})

	t.Run("will pass a nil body to the handler", func(t *testing.T) {
		t.Run("if no body chunks were received", func(t *testing.T) {
			called := false
			var got []byte
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				called = true
				got = body
				w.Complete(ctx, http.StatusOK, ResponseComponents{})
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
			})

			assert.True(t, called)
			assert.Nil(t, got)
		})
	})

	t.Run("will not carry a body over to the next request", func(t *testing.T) {
		var bodies [][]byte
		tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
			bodies = append(bodies, body)
			w.Complete(ctx, http.StatusOK, ResponseComponents{})
		}))

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/", true))
			h.BodyReceived(ctx, []byte("first"))
			h.EndReceived(ctx)

			h.HeadReceived(ctx, getHead("/", true))
			h.EndReceived(ctx)
		})

		if !assert.Len(t, bodies, 2) {
			return
		}
		assert.Equal(t, "first", string(bodies[0]))
		assert.Nil(t, bodies[1])
	})

	t.Run("will respond with 400 without calling the handler", func(t *testing.T) {
		t.Run("if no request head was received", func(t *testing.T) {
			called := false
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				called = true
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.EndReceived(ctx)
			})

			assert.False(t, called)

			writes := tc.out.Writes()
			if !assert.Len(t, writes, 1) {
				return
			}
			head := writes[0].part.Head
			if !assert.NotNil(t, head) {
				return
			}
			assert.Equal(t, http.StatusBadRequest, head.StatusCode)
			assert.JSONEq(t, `{"error":"missing request head"}`, string(writes[0].part.Body))
			assert.Equal(t, StateIdle, tc.h.State())
		})
	})

	t.Run("will respond with 413 and close the connection", func(t *testing.T) {
		t.Run("if the body exceeds the max body size", func(t *testing.T) {
			called := false
			tc := newTestConn(
				t,
				HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
					called = true
				}),
				func(cfg *connectionConfig) {
					cfg.maxBodySize = 4
				},
			)

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.BodyReceived(ctx, []byte("too large"))
				h.EndReceived(ctx)
			})

			assert.False(t, called)

			writes := tc.out.Writes()
			if !assert.Len(t, writes, 1) {
				return
			}
			assert.Equal(t, http.StatusRequestEntityTooLarge, writes[0].part.Head.StatusCode)
			assert.True(t, tc.h.Closed())
			assert.Equal(t, int32(1), tc.closes.Load())
		})
	})
}

func TestConnectionHandler_HeadReceived(t *testing.T) {
	t.Run("will panic with a SequencingFault", func(t *testing.T) {
		t.Run("if a second head arrives before the end of the first request", func(t *testing.T) {
			tc := newTestConn(t, respondOK())

			ctx := context.Background()
			tc.h.HeadReceived(ctx, getHead("/", true))

			assert.PanicsWithValue(t, SequencingFault{From: StateAwaitingBody, Transition: "requestReceived"}, func() {
				tc.h.HeadReceived(ctx, getHead("/", true))
			})
		})
	})

	t.Run("will take keep alive from the request head", func(t *testing.T) {
		tc := newTestConn(t, respondOK())

		ctx := context.Background()
		tc.h.HeadReceived(ctx, getHead("/", false))

		assert.False(t, tc.h.KeepAlive().KeepAlive())
		assert.Equal(t, StateAwaitingBody, tc.h.State())
	})
}

func TestConnectionHandler_KeepAlive(t *testing.T) {
	t.Run("will return to idle and resume reading", func(t *testing.T) {
		t.Run("if the request is kept alive", func(t *testing.T) {
			tc := newTestConn(t, respondOK())

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
			})

			assert.Equal(t, StateIdle, tc.h.State())
			assert.Equal(t, int32(1), tc.idles.Load())
			assert.False(t, tc.h.Closed())
			assert.Equal(t, 0, tc.out.Closes())

			writes := tc.out.Writes()
			if !assert.Len(t, writes, 1) {
				return
			}
			assert.True(t, writes[0].hasCallback)

			_, ok := writes[0].part.Head.Get("Connection")
			assert.False(t, ok)
		})

		t.Run("only once the final write has completed", func(t *testing.T) {
			tc := newTestConn(t, respondOK())
			tc.out.hold = true

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
			})

			assert.Equal(t, StateSendingResponse, tc.h.State())
			assert.Equal(t, int32(0), tc.idles.Load())

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				tc.out.release(nil)
			})

			assert.Equal(t, StateIdle, tc.h.State())
			assert.Equal(t, int32(1), tc.idles.Load())
			assert.False(t, tc.h.Closed())
		})
	})

	t.Run("will close the connection after the final write", func(t *testing.T) {
		t.Run("if the request is not kept alive", func(t *testing.T) {
			tc := newTestConn(t, respondOK())

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", false))
				h.EndReceived(ctx)
			})

			assert.True(t, tc.h.Closed())
			assert.Equal(t, 1, tc.out.Closes())
			assert.Equal(t, int32(1), tc.closes.Load())
			assert.Equal(t, int32(0), tc.idles.Load())

			writes := tc.out.Writes()
			if !assert.Len(t, writes, 1) {
				return
			}
			assert.True(t, writes[0].hasCallback)

			v, ok := writes[0].part.Head.Get("Connection")
			assert.True(t, ok)
			assert.Equal(t, "close", v)
		})

		t.Run("if the write fails", func(t *testing.T) {
			tc := newTestConn(t, respondOK())
			tc.out.err = errors.New("broken pipe")

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", false))
				h.EndReceived(ctx)
			})

			assert.True(t, tc.h.Closed())
			assert.Equal(t, 1, tc.out.Closes())
		})

		t.Run("if the write fails on a kept alive connection", func(t *testing.T) {
			tc := newTestConn(t, respondOK())
			tc.out.err = errors.New("broken pipe")

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
			})

			assert.True(t, tc.h.Closed())
			assert.Equal(t, 1, tc.out.Closes())
			assert.Equal(t, int32(1), tc.closes.Load())
			assert.Equal(t, int32(0), tc.idles.Load())
		})
	})

	t.Run("will ignore events after the connection is closed", func(t *testing.T) {
		called := 0
		tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
			called++
			w.Complete(ctx, http.StatusOK, ResponseComponents{})
		}))

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/", false))
			h.EndReceived(ctx)

			h.HeadReceived(ctx, getHead("/", true))
			h.BodyReceived(ctx, []byte("ignored"))
			h.EndReceived(ctx)
			h.HalfClosed(ctx)
			h.Quiesce(ctx)
		})

		assert.Equal(t, 1, called)
		assert.Len(t, tc.out.Writes(), 1)
		assert.Equal(t, 1, tc.out.Closes())
		assert.Equal(t, int32(1), tc.closes.Load())
	})
}

func TestConnectionHandler_HalfClosed(t *testing.T) {
	t.Run("will close the connection immediately", func(t *testing.T) {
		t.Run("if the connection is idle", func(t *testing.T) {
			tc := newTestConn(t, respondOK())

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HalfClosed(ctx)
				assert.True(t, h.Closed())
			})

			assert.Equal(t, 1, tc.out.Closes())
			assert.Empty(t, tc.out.Writes())
		})

		t.Run("if the connection is awaiting a body", func(t *testing.T) {
			called := false
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				called = true
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.BodyReceived(ctx, []byte("partial"))
				h.HalfClosed(ctx)
				assert.True(t, h.Closed())
			})

			assert.False(t, called)
			assert.Equal(t, 1, tc.out.Closes())
			assert.Empty(t, tc.out.Writes())
		})
	})

	t.Run("will close the connection after the response is written", func(t *testing.T) {
		t.Run("if the connection is sending a response", func(t *testing.T) {
			writers := make(chan *ResponseWriter, 1)
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				writers <- w
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
				h.HalfClosed(ctx)

				assert.False(t, h.Closed())
				assert.False(t, h.KeepAlive().KeepAlive())
			})

			w := <-writers
			w.Complete(context.Background(), http.StatusOK, okComponents())
			tc.flush()

			assert.True(t, tc.h.Closed())
			assert.Equal(t, 1, tc.out.Closes())

			writes := tc.out.Writes()
			if !assert.Len(t, writes, 1) {
				return
			}
			v, _ := writes[0].part.Head.Get("Connection")
			assert.Equal(t, "close", v)
		})
	})
}

func TestConnectionHandler_Malformed(t *testing.T) {
	t.Run("will respond with 400 and close the connection", func(t *testing.T) {
		tc := newTestConn(t, respondOK())

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.Malformed(ctx, errors.New("malformed HTTP request \"garbage\""))
		})

		writes := tc.out.Writes()
		if !assert.Len(t, writes, 1) {
			return
		}
		assert.Equal(t, http.StatusBadRequest, writes[0].part.Head.StatusCode)
		assert.JSONEq(t, `{"error":"malformed HTTP request \"garbage\""}`, string(writes[0].part.Body))
		assert.True(t, tc.h.Closed())
	})
}

func TestConnectionHandler_Aborted(t *testing.T) {
	t.Run("will close the connection without writing", func(t *testing.T) {
		tc := newTestConn(t, respondOK())

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/", true))
			h.Aborted(ctx, errors.New("connection reset by peer"))
		})

		assert.True(t, tc.h.Closed())
		assert.Empty(t, tc.out.Writes())
	})
}

func TestConnectionHandler_Quiesce(t *testing.T) {
	t.Run("will close the connection immediately", func(t *testing.T) {
		t.Run("if the connection is idle", func(t *testing.T) {
			tc := newTestConn(t, respondOK())

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.Quiesce(ctx)
			})

			assert.True(t, tc.h.Closed())
			assert.Equal(t, int32(1), tc.closes.Load())
		})
	})

	t.Run("will close the connection after the in-flight response", func(t *testing.T) {
		t.Run("if a response is being produced", func(t *testing.T) {
			writers := make(chan *ResponseWriter, 1)
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				writers <- w
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
				h.Quiesce(ctx)
			})

			assert.False(t, tc.h.Closed())

			w := <-writers
			w.Complete(context.Background(), http.StatusOK, okComponents())
			tc.flush()

			assert.True(t, tc.h.Closed())
			assert.Len(t, tc.out.Writes(), 1)
		})

		t.Run("if a request body is being received", func(t *testing.T) {
			tc := newTestConn(t, respondOK())

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.Quiesce(ctx)
				assert.False(t, h.Closed())

				h.BodyReceived(ctx, []byte("body"))
				h.EndReceived(ctx)
			})

			assert.True(t, tc.h.Closed())
			assert.Len(t, tc.out.Writes(), 1)
		})
	})
}
