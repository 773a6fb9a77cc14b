// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"bufio"
	"net/http"
	"strconv"
	"strings"
)

// HeaderField is a single response header. Fields are written in order
// and duplicates are all written.
type HeaderField struct {
	Name  string
	Value string
}

// ResponseBody is the payload of a response.
type ResponseBody struct {
	ContentType string
	Data        []byte
}

// ResponseComponents are everything a [Handler] provides to complete a
// response besides the status code.
type ResponseComponents struct {
	Headers []HeaderField

	// Body is optional. A nil Body results in "Content-Length: 0" and no
	// "Content-Type" header.
	Body *ResponseBody
}

// ResponseHead is the status line and headers of a response.
type ResponseHead struct {
	ProtoMajor int
	ProtoMinor int
	StatusCode int
	Header     []HeaderField
}

// Get returns the value of the first header named name.
func (h *ResponseHead) Get(name string) (string, bool) {
	for _, f := range h.Header {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// ResponsePart is one write to an [Outbound]. The head is only set on the
// first part of a response and End only on the last.
type ResponsePart struct {
	Head *ResponseHead
	Body []byte
	End  bool
}

// Outbound is the write side of a connection's transport. It is only
// ever used from the connection's loop.
type Outbound interface {
	// Write queues part to be written and flushed after any parts queued
	// before it. It must not block on the peer. If onComplete is non-nil it
	// is called on the loop once the write has finished, with any error
	// which occurred.
	Write(part ResponsePart, onComplete func(error))

	Close() error
}

// splitResponse splits body into parts of at most chunkSize bytes.
// A chunkSize of zero or less never splits.
func splitResponse(head *ResponseHead, body []byte, chunkSize int) []ResponsePart {
	if chunkSize <= 0 || len(body) <= chunkSize {
		return []ResponsePart{{Head: head, Body: body, End: true}}
	}

	n := (len(body) + chunkSize - 1) / chunkSize
	parts := make([]ResponsePart, n)
	for i := range parts {
		lo := i * chunkSize
		hi := min(lo+chunkSize, len(body))
		parts[i].Body = body[lo:hi]
	}
	parts[0].Head = head
	parts[n-1].End = true
	return parts
}

var headerNewlineToSpace = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func writeResponseHead(w *bufio.Writer, head *ResponseHead) error {
	w.WriteString("HTTP/")
	w.WriteString(strconv.Itoa(head.ProtoMajor))
	w.WriteByte('.')
	w.WriteString(strconv.Itoa(head.ProtoMinor))
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(head.StatusCode))
	w.WriteByte(' ')
	w.WriteString(http.StatusText(head.StatusCode))
	w.WriteString("\r\n")
	for _, f := range head.Header {
		w.WriteString(headerNewlineToSpace.Replace(f.Name))
		w.WriteString(": ")
		w.WriteString(headerNewlineToSpace.Replace(f.Value))
		w.WriteString("\r\n")
	}
	_, err := w.WriteString("\r\n")
	return err
}
