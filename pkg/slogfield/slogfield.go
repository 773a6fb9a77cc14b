// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides consistently named slog.Attrs.
package slogfield

import (
	"log/slog"
	"net/http"
	"time"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Strings returns an slog.Attr for a slice of strings.
func Strings(key string, values []string) slog.Attr {
	return slog.Any(key, values)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Int64 returns an slog.Attr for a int64.
func Int64(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// Uint returns an slog.Attr for a uint.
func Uint(key string, n uint) slog.Attr {
	return slog.Uint64(key, uint64(n))
}

// ConnID returns the slog.Attr identifying a connection.
func ConnID(id string) slog.Attr {
	return slog.String("conn_id", id)
}

// StatusCode returns the slog.Attr for a HTTP response status code.
func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// Header returns a group slog.Attr holding every value of the given HTTP header,
// keyed by the lower cased header name.
func Header(h http.Header) slog.Attr {
	attrs := make([]any, 0, len(h))
	for name, values := range h {
		key := lower(name)
		if len(values) == 1 {
			attrs = append(attrs, slog.String(key, values[0]))
			continue
		}
		attrs = append(attrs, slog.Any(key, values))
	}
	return slog.Group("header", attrs...)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
