// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/z5labs/loam/pkg/eventloop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseWriter_Complete(t *testing.T) {
	t.Run("will write before returning", func(t *testing.T) {
		t.Run("if called from the connection's loop", func(t *testing.T) {
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				w.Complete(ctx, http.StatusOK, okComponents())
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)

				assert.Len(t, tc.out.Writes(), 1)
				assert.Equal(t, StateIdle, h.State())
			})
		})
	})

	t.Run("will schedule the write on the connection's loop", func(t *testing.T) {
		t.Run("if called from another goroutine", func(t *testing.T) {
			writers := make(chan *ResponseWriter, 1)
			ctxs := make(chan context.Context, 1)
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				ctxs <- eventloop.Detach(ctx)
				writers <- w
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
			})

			w := <-writers
			ctx := <-ctxs

			release := make(chan struct{})
			err := tc.loop.Execute(context.Background(), func(context.Context) {
				<-release
			})
			require.NoError(t, err)

			returned := make(chan struct{})
			go func() {
				defer close(returned)
				w.Complete(ctx, http.StatusOK, okComponents())
			}()

			select {
			case <-returned:
			case <-time.After(5 * time.Second):
				t.Fatal("complete blocked on a busy loop")
			}
			assert.Empty(t, tc.out.Writes())

			close(release)
			tc.flush()

			assert.Len(t, tc.out.Writes(), 1)
			assert.Equal(t, StateIdle, tc.h.State())
		})
	})

	t.Run("will schedule the write on the connection's loop", func(t *testing.T) {
		t.Run("if the task context is used after the task returned", func(t *testing.T) {
			writers := make(chan *ResponseWriter, 1)
			ctxs := make(chan context.Context, 1)
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				ctxs <- ctx
				writers <- w
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
			})

			w := <-writers
			ctx := <-ctxs
			if !assert.False(t, eventloop.InEventLoop(ctx, tc.loop)) {
				return
			}

			release := make(chan struct{})
			err := tc.loop.Execute(context.Background(), func(context.Context) {
				<-release
			})
			require.NoError(t, err)

			returned := make(chan struct{})
			go func() {
				defer close(returned)
				w.Complete(ctx, http.StatusOK, okComponents())
			}()

			select {
			case <-returned:
			case <-time.After(5 * time.Second):
				t.Fatal("complete blocked on a busy loop")
			}
			assert.Empty(t, tc.out.Writes())

			close(release)
			tc.flush()

			assert.Len(t, tc.out.Writes(), 1)
			assert.Equal(t, StateIdle, tc.h.State())
			assert.Equal(t, int32(1), tc.idles.Load())
		})
	})

	t.Run("will only write the first completion", func(t *testing.T) {
		writers := make(chan *ResponseWriter, 1)
		tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
			w.Complete(ctx, http.StatusOK, okComponents())
			w.Complete(ctx, http.StatusInternalServerError, ResponseComponents{})
			writers <- w
		}))

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/", true))
			h.EndReceived(ctx)
		})

		w := <-writers
		w.Complete(context.Background(), http.StatusBadGateway, ResponseComponents{})
		tc.flush()

		writes := tc.out.Writes()
		if !assert.Len(t, writes, 1) {
			return
		}
		assert.Equal(t, http.StatusOK, writes[0].part.Head.StatusCode)
		assert.Equal(t, int32(1), tc.idles.Load())
	})

	t.Run("will not write", func(t *testing.T) {
		t.Run("if the connection closed before the response was completed", func(t *testing.T) {
			writers := make(chan *ResponseWriter, 1)
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				writers <- w
			}))

			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, getHead("/", true))
				h.EndReceived(ctx)
				h.Aborted(ctx, context.Canceled)
			})

			w := <-writers
			w.Complete(context.Background(), http.StatusOK, okComponents())
			tc.flush()

			assert.Empty(t, tc.out.Writes())
		})
	})
}

func TestResponseWriter_CompleteSilently(t *testing.T) {
	t.Run("will write the response", func(t *testing.T) {
		tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
			w.CompleteSilently(ctx, http.StatusNoContent, ResponseComponents{})
		}))

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/health/liveness", true))
			h.EndReceived(ctx)
		})

		writes := tc.out.Writes()
		if !assert.Len(t, writes, 1) {
			return
		}
		assert.Equal(t, http.StatusNoContent, writes[0].part.Head.StatusCode)
		assert.Equal(t, StateIdle, tc.h.State())
	})
}

func TestResponseWriter_BodylessResponses(t *testing.T) {
	testCases := []struct {
		Name          string
		Method        string
		StatusCode    int
		ContentLength string
	}{
		{
			Name:          "a HEAD request",
			Method:        http.MethodHead,
			StatusCode:    http.StatusOK,
			ContentLength: "2",
		},
		{
			Name:       "a no content response",
			Method:     http.MethodGet,
			StatusCode: http.StatusNoContent,
		},
		{
			Name:          "a not modified response",
			Method:        http.MethodGet,
			StatusCode:    http.StatusNotModified,
			ContentLength: "2",
		},
	}

	for _, testCase := range testCases {
		t.Run("will not write a body for "+testCase.Name, func(t *testing.T) {
			tc := newTestConn(t, HandlerFunc(func(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
				w.Complete(ctx, testCase.StatusCode, okComponents())
			}))

			req := getHead("/", true)
			req.Method = testCase.Method
			tc.run(func(ctx context.Context, h *ConnectionHandler) {
				h.HeadReceived(ctx, req)
				h.EndReceived(ctx)
			})

			writes := tc.out.Writes()
			if !assert.Len(t, writes, 1) {
				return
			}
			part := writes[0].part
			assert.Empty(t, part.Body)
			assert.True(t, part.End)
			if !assert.NotNil(t, part.Head) {
				return
			}
			assert.Equal(t, testCase.StatusCode, part.Head.StatusCode)

			v, ok := part.Head.Get("Content-Length")
			assert.Equal(t, testCase.ContentLength != "", ok)
			assert.Equal(t, testCase.ContentLength, v)
			assert.Equal(t, StateIdle, tc.h.State())
		})
	}
}

func TestResponseWriter_Chunking(t *testing.T) {
	t.Run("will write the body in chunk sized parts", func(t *testing.T) {
		body := bytes.Repeat([]byte("z"), 1300)
		tc := newTestConn(
			t,
			HandlerFunc(func(ctx context.Context, req *RequestHead, _ []byte, w *ResponseWriter) {
				w.Complete(ctx, http.StatusOK, ResponseComponents{
					Body: &ResponseBody{ContentType: "application/octet-stream", Data: body},
				})
			}),
			func(cfg *connectionConfig) {
				cfg.chunkSize = 500
			},
		)

		tc.run(func(ctx context.Context, h *ConnectionHandler) {
			h.HeadReceived(ctx, getHead("/", false))
			h.EndReceived(ctx)
		})

		writes := tc.out.Writes()
		if !assert.Len(t, writes, 3) {
			return
		}

		head := writes[0].part.Head
		if !assert.NotNil(t, head) {
			return
		}
		v, _ := head.Get("Content-Length")
		assert.Equal(t, "1300", v)

		assert.Nil(t, writes[1].part.Head)
		assert.Nil(t, writes[2].part.Head)

		assert.False(t, writes[0].part.End)
		assert.False(t, writes[1].part.End)
		assert.True(t, writes[2].part.End)

		assert.False(t, writes[0].hasCallback)
		assert.False(t, writes[1].hasCallback)
		assert.True(t, writes[2].hasCallback)

		var got []byte
		for _, w := range writes {
			got = append(got, w.part.Body...)
		}
		assert.Equal(t, body, got)
		assert.True(t, tc.h.Closed())
	})
}

func TestResponseWriter_ResponseHead(t *testing.T) {
	testCases := []struct {
		Name       string
		Request    *RequestHead
		StatusCode int
		KeepAlive  bool
		Comps     ResponseComponents
		Proto     [2]int
		Expected  []HeaderField
	}{
		{
			Name:      "no body",
			Request:   getHead("/", true),
			KeepAlive: true,
			Proto:     [2]int{1, 1},
			Expected: []HeaderField{
				{Name: "Content-Length", Value: "0"},
			},
		},
		{
			Name:      "body without content type",
			Request:   getHead("/", true),
			KeepAlive: true,
			Comps: ResponseComponents{
				Body: &ResponseBody{Data: []byte("abc")},
			},
			Proto: [2]int{1, 1},
			Expected: []HeaderField{
				{Name: "Content-Length", Value: "3"},
				{Name: "Content-Type", Value: "application/octet-stream"},
			},
		},
		{
			Name:      "caller headers after framing headers",
			Request:   getHead("/", false),
			KeepAlive: false,
			Comps: ResponseComponents{
				Headers: []HeaderField{
					{Name: "X-Request-Id", Value: "abc"},
					{Name: "X-Request-Id", Value: "def"},
				},
				Body: &ResponseBody{ContentType: "text/plain", Data: []byte("ok")},
			},
			Proto: [2]int{1, 1},
			Expected: []HeaderField{
				{Name: "Content-Length", Value: "2"},
				{Name: "Content-Type", Value: "text/plain"},
				{Name: "Connection", Value: "close"},
				{Name: "X-Request-Id", Value: "abc"},
				{Name: "X-Request-Id", Value: "def"},
			},
		},
		{
			Name: "http/1.0 kept alive",
			Request: &RequestHead{
				Method:     http.MethodGet,
				Target:     "/",
				Proto:      "HTTP/1.0",
				ProtoMajor: 1,
				ProtoMinor: 0,
				KeepAlive:  true,
			},
			KeepAlive: true,
			Proto:     [2]int{1, 0},
			Expected: []HeaderField{
				{Name: "Content-Length", Value: "0"},
				{Name: "Connection", Value: "keep-alive"},
			},
		},
		{
			Name:       "no content",
			Request:    getHead("/", true),
			StatusCode: http.StatusNoContent,
			KeepAlive:  true,
			Comps:      okComponents(),
			Proto:      [2]int{1, 1},
			Expected:   []HeaderField{},
		},
		{
			Name:       "not modified",
			Request:    getHead("/", true),
			StatusCode: http.StatusNotModified,
			KeepAlive:  true,
			Comps:      okComponents(),
			Proto:      [2]int{1, 1},
			Expected: []HeaderField{
				{Name: "Content-Length", Value: "2"},
				{Name: "Content-Type", Value: "text/plain"},
			},
		},
		{
			Name:      "rejected without a request head",
			KeepAlive: true,
			Proto:     [2]int{1, 1},
			Expected: []HeaderField{
				{Name: "Content-Length", Value: "0"},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run("will build headers for "+testCase.Name, func(t *testing.T) {
			statusCode := testCase.StatusCode
			if statusCode == 0 {
				statusCode = http.StatusOK
			}
			w := &ResponseWriter{req: testCase.Request}

			head := w.responseHead(statusCode, testCase.Comps, testCase.KeepAlive)

			assert.Equal(t, testCase.Proto[0], head.ProtoMajor)
			assert.Equal(t, testCase.Proto[1], head.ProtoMinor)
			assert.Equal(t, statusCode, head.StatusCode)
			assert.Equal(t, testCase.Expected, head.Header)
		})
	}
}
