// Package bhttp implements the known-length binary HTTP message format
// (RFC 9292) carried as the OHTTP plaintext.
package bhttp

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a message is truncated, uses invalid
	// framing, or declares lengths that disagree with the bytes present.
	ErrMalformed = errors.New("bhttp: malformed message")

	// ErrOversize is returned when a declared length exceeds the decoder's
	// configured maximum. The check happens before any allocation.
	ErrOversize = errors.New("bhttp: message exceeds size limit")
)

// Framing indicators for known-length messages.
const (
	framingRequest  = 0
	framingResponse = 1
)

// Field is a single header or trailer entry. Order is preserved and
// duplicate names are allowed.
type Field struct {
	Name  string
	Value string
}

// Request is the in-memory form of an inner binary HTTP request.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Headers   []Field
	Body      []byte
}

// Response is the in-memory form of an inner binary HTTP response.
type Response struct {
	Status  int
	Headers []Field
	Body    []byte
}

// Header returns the first header value for name, or "" when absent.
func (r *Request) Header(name string) string {
	for _, f := range r.Headers {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformed)...)
}

func oversize(n, max int) error {
	return fmt.Errorf("declared length %d exceeds limit %d: %w", n, max, ErrOversize)
}
