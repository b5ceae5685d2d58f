// Package failure defines the error classes shared by every pipeline stage and
// classifies raw provider errors into them.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrTransient      = errors.New("transient provider error")
	ErrFatal          = errors.New("fatal provider error")
	ErrBadRequest     = errors.New("provider rejected request")
	ErrResponseFormat = errors.New("unexpected provider response format")
	ErrEmptyResponse  = errors.New("provider returned no content")
	ErrMisconfigured  = errors.New("provider misconfigured")
	ErrStorage        = errors.New("storage operation failed")
	ErrValidation     = errors.New("validation failed")
	ErrDataIntegrity  = errors.New("data integrity violation")
)

// Class is the retry-relevant category of an error.
type Class int

const (
	ClassUnknown Class = iota
	ClassTransient
	ClassFatal
	ClassBadRequest
	ClassFormat
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassBadRequest:
		return "bad_request"
	case ClassFormat:
		return "format"
	default:
		return "unknown"
	}
}

func (c Class) sentinel() error {
	switch c {
	case ClassTransient:
		return ErrTransient
	case ClassFatal:
		return ErrFatal
	case ClassBadRequest:
		return ErrBadRequest
	case ClassFormat:
		return ErrResponseFormat
	default:
		return nil
	}
}

// ProviderError wraps an error returned by an external model provider.
type ProviderError struct {
	Provider   string
	Op         string
	Class      Class
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (%s, status %d): %v", e.Provider, e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is match the class sentinel.
func (e *ProviderError) Is(target error) bool {
	if s := e.Class.sentinel(); s != nil && target == s {
		return true
	}
	return false
}

// FromProvider classifies err and wraps it in a ProviderError. A nil err stays nil.
func FromProvider(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	class := Classify(err)
	_, code := classify(err)
	return &ProviderError{Provider: provider, Op: op, Class: class, StatusCode: code, Err: err}
}

// Classify returns the class of err, looking through ProviderError wrappers first.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	switch {
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, ErrFatal), errors.Is(err, ErrMisconfigured):
		return ClassFatal
	case errors.Is(err, ErrBadRequest):
		return ClassBadRequest
	case errors.Is(err, ErrResponseFormat), errors.Is(err, ErrEmptyResponse):
		return ClassFormat
	}
	c, _ := classify(err)
	return c
}

// IsTransient is the default retryable predicate.
func IsTransient(err error) bool { return Classify(err) == ClassTransient }

// IsFatal reports errors that must abort the enclosing task.
func IsFatal(err error) bool {
	return Classify(err) == ClassFatal || errors.Is(err, ErrStorage) || errors.Is(err, ErrDataIntegrity)
}

var statusPattern = regexp.MustCompile(`status(?: code)?[:= ]+(\d{3})`)

func classify(err error) (Class, int) {
	if errors.Is(err, context.Canceled) {
		return ClassUnknown, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient, 0
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTP(gerr.Code), gerr.Code
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return classifyGRPC(st.Code()), 0
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return ClassTransient, 0
	}

	msg := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return classifyHTTP(code), code
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "unavailable"), strings.Contains(msg, "eof"):
		return ClassTransient, 0
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission denied"), strings.Contains(msg, "forbidden"):
		return ClassFatal, 0
	}
	return ClassUnknown, 0
}

func classifyHTTP(code int) Class {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ClassFatal
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return ClassTransient
	case code >= 400:
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}

func classifyGRPC(code codes.Code) Class {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ClassFatal
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return ClassTransient
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.OutOfRange:
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}

// StorageError is a database connectivity or operation failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
