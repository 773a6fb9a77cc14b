// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/z5labs/loam/pkg/eventloop"
	"github.com/z5labs/loam/pkg/slogfield"

	"github.com/dchest/uniuri"
)

// conn binds an accepted net.Conn to a loop. A decoder goroutine parses
// the inbound byte stream and posts the resulting protocol events to the
// loop, where the ConnectionHandler processes them.
type conn struct {
	id   string
	nc   net.Conn
	loop *eventloop.Loop
	h    *ConnectionHandler
	log  *slog.Logger
	ctx  context.Context

	readBufferSize int
	out            *connOutbound

	// ready holds a token while the handler is idle. The decoder takes it
	// before posting the next request so at most one parsed request
	// waits for the in-flight one to finish.
	ready chan struct{}

	closeOnce   sync.Once
	closed      chan struct{}
	abandonOnce sync.Once
}

type connOptions struct {
	handler        Handler
	log            *slog.Logger
	tel            *telemetry
	chunkSize      int
	maxBodySize    int64
	readBufferSize int
	writeTimeout   time.Duration
	onClose        func(*conn)
}

func newConn(nc net.Conn, loop *eventloop.Loop, opts connOptions) *conn {
	id := uniuri.New()
	c := &conn{
		id:             id,
		nc:             nc,
		loop:           loop,
		ctx:            context.Background(),
		readBufferSize: opts.readBufferSize,
		out:            newConnOutbound(nc, loop, opts.writeTimeout),
		ready:          make(chan struct{}, 1),
		closed:         make(chan struct{}),
		log: opts.log.With(
			slogfield.ConnID(id),
			slogfield.String("remote_addr", nc.RemoteAddr().String()),
		),
	}
	c.ready <- struct{}{}
	c.out.abandon = c.abandon

	c.h = newConnectionHandler(connectionConfig{
		loop:        loop,
		out:         c.out,
		handler:     opts.handler,
		log:         c.log,
		tel:         opts.tel,
		chunkSize:   opts.chunkSize,
		maxBodySize: opts.maxBodySize,
		onIdle:      c.resume,
		onClose: func() {
			c.closeOnce.Do(func() { close(c.closed) })
			if opts.onClose != nil {
				opts.onClose(c)
			}
		},
	})
	return c
}

func (c *conn) serve() {
	c.log.Debug("accepted connection")
	go c.out.run()
	go c.decode()
}

// quiesce is safe to call from any goroutine.
func (c *conn) quiesce() error {
	return c.loop.Execute(c.ctx, c.h.Quiesce)
}

func (c *conn) resume() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *conn) awaitReady() bool {
	select {
	case <-c.ready:
		return true
	case <-c.closed:
		return false
	}
}

// post runs f on the loop. If the loop no longer accepts tasks the
// connection can never be served again and is abandoned.
func (c *conn) post(f eventloop.Task) bool {
	err := c.loop.Execute(c.ctx, f)
	if err == nil {
		return true
	}
	c.log.Error("failed to post connection event", slogfield.Error(err))
	c.abandon()
	return false
}

// abandon closes the connection once its loop has exited. From then on
// nothing else touches the handler, so it is safe to call from any
// goroutine.
func (c *conn) abandon() {
	<-c.loop.Done()
	c.abandonOnce.Do(func() {
		c.h.close(c.ctx)
	})
}

func (c *conn) decode() {
	br := bufio.NewReaderSize(c.nc, c.readBufferSize)
	remoteAddr := c.nc.RemoteAddr().String()

	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			c.readFailed(err, true)
			return
		}
		if !c.awaitReady() {
			return
		}

		head := newRequestHead(req, remoteAddr)
		ok := c.post(func(ctx context.Context) {
			c.h.HeadReceived(ctx, head)
		})
		if !ok || !c.decodeBody(req.Body) {
			return
		}
		if !c.post(c.h.EndReceived) {
			return
		}
	}
}

func (c *conn) decodeBody(body io.ReadCloser) bool {
	defer body.Close()

	buf := make([]byte, c.readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			ok := c.post(func(ctx context.Context) {
				c.h.BodyReceived(ctx, chunk)
			})
			if !ok {
				return false
			}
		}
		if err == io.EOF {
			return true
		}
		if err != nil {
			c.readFailed(err, false)
			return false
		}
	}
}

// readFailed maps a read error onto a protocol event. Malformed requests
// received between requests wait for the handler to become idle, like any
// other request would.
func (c *conn) readFailed(err error, betweenRequests bool) {
	var nerr net.Error
	switch {
	case errors.Is(err, net.ErrClosed):
		select {
		case <-c.closed:
			return
		default:
		}
		// closed by a failed write
		c.post(func(ctx context.Context) {
			c.h.Aborted(ctx, err)
		})
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		c.post(c.h.HalfClosed)
	case errors.As(err, &nerr):
		c.post(func(ctx context.Context) {
			c.h.Aborted(ctx, err)
		})
	default:
		if betweenRequests && !c.awaitReady() {
			return
		}
		c.post(func(ctx context.Context) {
			c.h.Malformed(ctx, err)
		})
	}
}

// connOutbound hands response parts to a writer goroutine so a peer
// which stops reading never blocks the loop. Parts are written in the
// order they were queued and every completion callback is run on the loop.
type connOutbound struct {
	nc           net.Conn
	loop         *eventloop.Loop
	writeTimeout time.Duration
	abandon      func()

	mu     sync.Mutex
	queue  []queuedPart
	closed bool
	wake   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type queuedPart struct {
	part       ResponsePart
	onComplete func(error)
}

func newConnOutbound(nc net.Conn, loop *eventloop.Loop, writeTimeout time.Duration) *connOutbound {
	return &connOutbound{
		nc:           nc,
		loop:         loop,
		writeTimeout: writeTimeout,
		wake:         make(chan struct{}, 1),
	}
}

// Write implements the [Outbound] interface. It never blocks.
func (o *connOutbound) Write(part ResponsePart, onComplete func(error)) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		if onComplete != nil {
			onComplete(net.ErrClosed)
		}
		return
	}
	o.queue = append(o.queue, queuedPart{part: part, onComplete: onComplete})
	o.mu.Unlock()

	o.signal()
}

// Close implements the [Outbound] interface. Any write in progress fails
// and the parts still queued are completed with an error.
func (o *connOutbound) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.closeErr = o.nc.Close()
		o.signal()
	})
	return o.closeErr
}

func (o *connOutbound) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *connOutbound) run() {
	bw := bufio.NewWriter(o.nc)

	var err error
	for {
		o.mu.Lock()
		parts := o.queue
		o.queue = nil
		closed := o.closed
		o.mu.Unlock()

		if len(parts) == 0 {
			if closed {
				return
			}
			<-o.wake
			continue
		}

		for i, qp := range parts {
			if err == nil && closed {
				err = net.ErrClosed
			}
			if err == nil {
				err = o.write(bw, qp.part)
				if err != nil {
					o.Close()
				}
			}
			if qp.onComplete != nil {
				o.complete(qp.onComplete, err)
			}
			parts[i] = queuedPart{}
		}
	}
}

func (o *connOutbound) write(bw *bufio.Writer, part ResponsePart) error {
	if o.writeTimeout > 0 {
		err := o.nc.SetWriteDeadline(time.Now().Add(o.writeTimeout))
		if err != nil {
			return err
		}
	}
	if part.Head != nil {
		err := writeResponseHead(bw, part.Head)
		if err != nil {
			return err
		}
	}
	if len(part.Body) > 0 {
		_, err := bw.Write(part.Body)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// complete runs f on the loop. A loop which no longer accepts tasks can
// never serve the connection again, so it is abandoned instead.
func (o *connOutbound) complete(f func(error), err error) {
	execErr := o.loop.Execute(context.Background(), func(_ context.Context) {
		f(err)
	})
	if execErr == nil {
		return
	}
	if o.abandon != nil {
		o.abandon()
	}
}
