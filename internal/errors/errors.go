// Package errors provides the error taxonomy shared by the colony's agents.
// It separates failures that abort the whole simulation at startup (resource
// errors) from failures that only end the agent that hit them (sync errors and
// recovered panics). Capacity conditions are never errors; they are reported as
// events and retried.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes errors for teardown decisions
type ErrorType string

const (
	// ErrorTypeResource means the shared coordination structures could not be
	// created or attached. Fatal at process start.
	ErrorTypeResource ErrorType = "resource"
	// ErrorTypeSync means a lock, ticket or timed wait failed instead of
	// blocking. Fatal for the calling agent only.
	ErrorTypeSync ErrorType = "sync"
	// ErrorTypePanic indicates a panic was recovered inside an agent
	ErrorTypePanic ErrorType = "panic"
	// ErrorTypeUnknown is anything not produced by this package
	ErrorTypeUnknown ErrorType = "unknown"
)

// ResourceError wraps a failure to set up shared state
// Examples: invalid configuration, unwritable hive directory, journal open failure
type ResourceError struct {
	Err      error
	Resource string
}

func (e *ResourceError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("[resource:%s] %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("[resource] %v", e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// SyncError wraps a failed acquisition of a coordination primitive
// Examples: hive torn down while waiting for a ticket, an entrance slot or a sleep
type SyncError struct {
	Err       error
	Primitive string
}

func (e *SyncError) Error() string {
	if e.Primitive != "" {
		return fmt.Sprintf("[sync:%s] %v", e.Primitive, e.Err)
	}
	return fmt.Sprintf("[sync] %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// PanicError carries a panic recovered from an agent goroutine
type PanicError struct {
	Value interface{}
	Msg   string
}

func (e *PanicError) Error() string {
	return e.Msg
}

// NewResourceError wraps an error as a startup resource failure
func NewResourceError(err error, resource string) error {
	return &ResourceError{Err: err, Resource: resource}
}

// NewSyncError wraps an error as a coordination primitive failure
func NewSyncError(err error, primitive string) error {
	return &SyncError{Err: err, Primitive: primitive}
}

// IsResource checks if an error is a resource failure
func IsResource(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}

// IsSync checks if an error is a synchronization failure
func IsSync(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// IsFatal reports whether err ends the agent (or, for resource errors, the
// whole simulation). Plain errors from outside this taxonomy are not fatal.
func IsFatal(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeResource, ErrorTypeSync, ErrorTypePanic:
		return true
	default:
		return false
	}
}

// GetErrorType returns the ErrorType for any error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var re *ResourceError
	if errors.As(err, &re) {
		return ErrorTypeResource
	}

	var se *SyncError
	if errors.As(err, &se) {
		return ErrorTypeSync
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		return ErrorTypePanic
	}

	return ErrorTypeUnknown
}

// RecoveryResult holds the result of a recovered panic
type RecoveryResult struct {
	Recovered  bool
	PanicValue interface{}
	ErrorMsg   string
	ErrorType  ErrorType
}

// Err converts a recovered panic into a PanicError (nil if nothing was recovered).
func (r RecoveryResult) Err() error {
	if !r.Recovered {
		return nil
	}
	return &PanicError{Value: r.PanicValue, Msg: r.ErrorMsg}
}

// RecoverPanic recovers from a panic and returns a RecoveryResult.
// Use with defer:
//
//	defer func() {
//	    if r := errors.RecoverPanic(recover()); r.Recovered {
//	        // Handle recovered panic
//	    }
//	}()
func RecoverPanic(r interface{}) RecoveryResult {
	if r == nil {
		return RecoveryResult{Recovered: false}
	}

	result := RecoveryResult{
		Recovered:  true,
		PanicValue: r,
		ErrorType:  ErrorTypePanic,
	}

	switch v := r.(type) {
	case error:
		result.ErrorMsg = fmt.Sprintf("panic: %v", v)
	case string:
		result.ErrorMsg = fmt.Sprintf("panic: %s", v)
	default:
		result.ErrorMsg = fmt.Sprintf("panic: %+v", v)
	}

	return result
}

// ErrorTypeFromString parses an ErrorType from string
func ErrorTypeFromString(s string) ErrorType {
	switch strings.ToLower(s) {
	case "resource":
		return ErrorTypeResource
	case "sync":
		return ErrorTypeSync
	case "panic":
		return ErrorTypePanic
	default:
		return ErrorTypeUnknown
	}
}
