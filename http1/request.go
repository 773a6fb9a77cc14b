// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"net/http"
	"net/url"
)

// RequestHead is the parsed start line and headers of a request.
type RequestHead struct {
	Method     string
	Target     string
	URL        *url.URL
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     http.Header
	Host       string

	// ContentLength is -1 if unknown.
	ContentLength int64

	// KeepAlive follows HTTP/1 persistence rules: HTTP/1.1 connections
	// persist unless "Connection: close" is sent, HTTP/1.0 connections
	// only persist with "Connection: keep-alive".
	KeepAlive bool

	RemoteAddr string
}

// Path returns the request path, without the query string.
func (h *RequestHead) Path() string {
	if h.URL == nil {
		return h.Target
	}
	return h.URL.Path
}

func newRequestHead(req *http.Request, remoteAddr string) *RequestHead {
	return &RequestHead{
		Method:        req.Method,
		Target:        req.RequestURI,
		URL:           req.URL,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        req.Header,
		Host:          req.Host,
		ContentLength: req.ContentLength,
		KeepAlive:     !req.Close,
		RemoteAddr:    remoteAddr,
	}
}

// pendingRequest accumulates one request until its end is received.
type pendingRequest struct {
	head         *RequestHead
	headReceived bool
	chunks       [][]byte
	size         int64
	oversized    bool
}

func (p *pendingRequest) reset() {
	*p = pendingRequest{}
}

// append keeps chunks in arrival order. A limit of zero or less disables
// it; otherwise bytes past limit are dropped and the request is
// marked oversized.
func (p *pendingRequest) append(chunk []byte, limit int64) {
	if p.oversized {
		return
	}
	if limit > 0 && p.size+int64(len(chunk)) > limit {
		p.oversized = true
		p.chunks = nil
		return
	}
	p.size += int64(len(chunk))
	p.chunks = append(p.chunks, chunk)
}

// body concatenates the chunks. No chunks results in a nil body so an
// absent body can be told apart from an empty one.
func (p *pendingRequest) body() []byte {
	if len(p.chunks) == 0 {
		return nil
	}
	if len(p.chunks) == 1 {
		return p.chunks[0]
	}
	b := make([]byte, 0, p.size)
	for _, chunk := range p.chunks {
		b = append(b, chunk...)
	}
	return b
}
