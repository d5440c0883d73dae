package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a malformed key, prefix or value. It is
	// returned before any I/O is attempted.
	ErrInvalidArgument = errors.New("kv: invalid argument")
	// ErrUnavailable reports that the storage medium could not be reached or
	// failed. The store never retries.
	ErrUnavailable = errors.New("kv: storage unavailable")
)

// Error describes a failed store operation. Kind is ErrInvalidArgument,
// ErrUnavailable, or nil when the caller's context ended the operation.
type Error struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := "kv: " + e.Op
	if e.Key != "" {
		msg += " " + fmt.Sprintf("%q", e.Key)
	}
	switch {
	case e.Kind == ErrInvalidArgument:
		msg += ": invalid argument"
	case e.Kind == ErrUnavailable:
		msg += ": storage unavailable"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func invalid(op, key string, err error) error {
	return &Error{Op: op, Key: key, Kind: ErrInvalidArgument, Err: err}
}

// classify wraps a backend error. Context errors keep their identity, errors
// that already carry a kind (for example from the daemon) keep it, and
// everything else is a medium failure.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var kerr *Error
	if errors.As(err, &kerr) && kerr.Kind != nil {
		return &Error{Op: op, Key: key, Kind: kerr.Kind, Err: kerr.Err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Key: key, Err: err}
	}
	return &Error{Op: op, Key: key, Kind: ErrUnavailable, Err: err}
}
