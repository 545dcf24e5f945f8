// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error sentinels used across the backup engine.
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that input validation failed
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates that the credential was rejected
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates that the request conflicts with remote state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that an external dependency failed
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrConfiguration indicates that required configuration is missing
	ErrConfiguration = errors.New("configuration error")

	// ErrRemoteState indicates that the remote environment set is not usable
	ErrRemoteState = errors.New("remote state error")

	// ErrCadenceNotEnabled indicates a manual run of a disabled cadence
	ErrCadenceNotEnabled = errors.New("cadence not enabled")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindUnauthorized
	KindConflict
	KindInternal
	KindTimeout
	KindDependencyFailure
	KindCanceled
	KindConfiguration
	KindRemoteState
	KindCadenceNotEnabled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindUnauthorized:
		return "Unauthorized"
	case KindConflict:
		return "Conflict"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindCanceled:
		return "Canceled"
	case KindConfiguration:
		return "Configuration"
	case KindRemoteState:
		return "RemoteState"
	case KindCadenceNotEnabled:
		return "CadenceNotEnabled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindValidation:        ErrValidation,
	KindUnauthorized:      ErrUnauthorized,
	KindConflict:          ErrConflict,
	KindInternal:          ErrInternal,
	KindTimeout:           ErrTimeout,
	KindDependencyFailure: ErrDependencyFailure,
	KindConfiguration:     ErrConfiguration,
	KindRemoteState:       ErrRemoteState,
	KindCadenceNotEnabled: ErrCadenceNotEnabled,
}

// kindPriorities defines the deterministic order for error classification.
// Domain kinds come before the transport kinds they may wrap.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindConfiguration, ErrConfiguration},
	{KindCadenceNotEnabled, ErrCadenceNotEnabled},
	{KindRemoteState, ErrRemoteState},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindUnauthorized, ErrUnauthorized},
	{KindConflict, ErrConflict},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of err by walking its chain in priority order.
// For errors.Join the first matching kind in priority order wins.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		switch p.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, p.err) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

// HasKind reports whether KindOf(err) == kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for kind, or nil for KindUnknown
// and KindCanceled.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel for kind, preserving err in the chain.
// Marking an error with a kind it already has returns it unchanged.
//
//	if resp.StatusCode == http.StatusNotFound {
//	    return shared.MarkKind(apiErr, shared.KindNotFound)
//	}
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return SentinelOf(kind)
	}
	sentinel := SentinelOf(kind)
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool      { return errors.Is(err, ErrUnauthorized) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsDependencyFailure(err error) bool { return errors.Is(err, ErrDependencyFailure) }
func IsConfiguration(err error) bool     { return errors.Is(err, ErrConfiguration) }
func IsRemoteState(err error) bool       { return errors.Is(err, ErrRemoteState) }
func IsCadenceNotEnabled(err error) bool { return errors.Is(err, ErrCadenceNotEnabled) }
