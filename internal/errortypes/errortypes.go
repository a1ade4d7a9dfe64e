package errortypes

import (
	"context"
	"errors"
	"fmt"
)

// Status is the caller visible outcome code of an ad selection call.
type Status int

const (
	StatusSuccess Status = iota
	StatusInternalError
	StatusInvalidArgument
	StatusUnauthorized
	StatusCallerNotAllowed
	StatusBackgroundCaller
	StatusRateLimitReached
	StatusTimeout
	StatusUserConsentRevoked
	StatusNotFound
)

var statusNames = map[Status]string{
	StatusSuccess:            "success",
	StatusInternalError:      "internal_error",
	StatusInvalidArgument:    "invalid_argument",
	StatusUnauthorized:       "unauthorized",
	StatusCallerNotAllowed:   "caller_not_allowed",
	StatusBackgroundCaller:   "background_caller",
	StatusRateLimitReached:   "rate_limit_reached",
	StatusTimeout:            "timeout",
	StatusUserConsentRevoked: "user_consent_revoked",
	StatusNotFound:           "not_found",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Coder is implemented by every error in this package.
type Coder interface {
	Status() Status
}

// ReadStatus returns the status carried by err, StatusTimeout for context deadlines,
// and StatusInternalError for anything else.
func ReadStatus(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Status()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusInternalError
}

// InvalidArgument flags a malformed request or auction config. No network work is done.
type InvalidArgument struct {
	Message string
}

func (err *InvalidArgument) Error() string  { return err.Message }
func (err *InvalidArgument) Status() Status { return StatusInvalidArgument }

// Unauthorized flags a caller that failed enrollment or authorization checks.
type Unauthorized struct {
	Message string
}

func (err *Unauthorized) Error() string  { return err.Message }
func (err *Unauthorized) Status() Status { return StatusUnauthorized }

// CallerNotAllowed flags a caller package that is not on the allow list or does not match its uid.
type CallerNotAllowed struct {
	Message string
}

func (err *CallerNotAllowed) Error() string  { return err.Message }
func (err *CallerNotAllowed) Status() Status { return StatusCallerNotAllowed }

// BackgroundCaller flags a call made from a caller not in the foreground.
type BackgroundCaller struct {
	Message string
}

func (err *BackgroundCaller) Error() string  { return err.Message }
func (err *BackgroundCaller) Status() Status { return StatusBackgroundCaller }

// ConsentRevoked is reported to the caller as an empty success, never as an error.
type ConsentRevoked struct {
	Message string
}

func (err *ConsentRevoked) Error() string  { return err.Message }
func (err *ConsentRevoked) Status() Status { return StatusUserConsentRevoked }

// RateLimitReached flags a call rejected by the process wide throttler.
type RateLimitReached struct {
	Message string
}

func (err *RateLimitReached) Error() string  { return err.Message }
func (err *RateLimitReached) Status() Status { return StatusRateLimitReached }

// Timeout flags a stage or overall deadline. It is never reported as an internal error.
type Timeout struct {
	Message string
	Cause   error
}

func (err *Timeout) Error() string  { return err.Message }
func (err *Timeout) Status() Status { return StatusTimeout }
func (err *Timeout) Unwrap() error  { return err.Cause }

// Internal is the catch-all kind: no inventory, no bids, no winner, script and storage failures.
type Internal struct {
	Message string
	Cause   error
}

func (err *Internal) Error() string  { return err.Message }
func (err *Internal) Status() Status { return StatusInternalError }
func (err *Internal) Unwrap() error  { return err.Cause }

// NotFound flags a lookup of an auction result that does not exist.
type NotFound struct {
	Message string
}

func (err *NotFound) Error() string  { return err.Message }
func (err *NotFound) Status() Status { return StatusNotFound }
