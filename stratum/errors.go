// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors by how the caller should react to
// them.
type ErrorKind int

const (
	// ErrConfig indicates missing or invalid miner configuration.
	ErrConfig ErrorKind = iota

	// ErrLink indicates the external network link is not ready.
	ErrLink

	// ErrTransport indicates a TCP connect, read or write failure.  The
	// session is disconnected when this surfaces.
	ErrTransport

	// ErrProtocol indicates a malformed line or an unexpected response
	// shape.  Protocol errors are counted, not fatal, except for
	// oversized lines which force a disconnect.
	ErrProtocol

	// ErrInvalidJob indicates a notify whose hex fields failed to
	// decode.  The job is discarded and the session continues.
	ErrInvalidJob

	// ErrRejected indicates the pool refused a submitted share.
	ErrRejected
)

// String returns the ErrorKind as a human-readable string.
func (k ErrorKind) String() string {
	switch k {
	case ErrConfig:
		return "ErrConfig"
	case ErrLink:
		return "ErrLink"
	case ErrTransport:
		return "ErrTransport"
	case ErrProtocol:
		return "ErrProtocol"
	case ErrInvalidJob:
		return "ErrInvalidJob"
	case ErrRejected:
		return "ErrRejected"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error identifies a session error and its kind.
type Error struct {
	Kind        ErrorKind
	Description string
	Err         error
}

// Error satisfies the error interface.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a kind, description and underlying
// error.
func makeError(kind ErrorKind, desc string, err error) Error {
	return Error{Kind: kind, Description: desc, Err: err}
}

// IsErrorKind reports whether err is an Error with the provided kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	var e Error
	return errors.As(err, &e) && e.Kind == kind
}
