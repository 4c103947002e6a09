// Package core provides the ambient primitives shared by every component:
// logging, error taxonomy, telemetry and configuration. Nothing here is
// domain-specific to orchestration.
package core

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the orchestrator's error handling
// design: transport-level failures map to a small fixed set of kinds so
// callers can branch on behavior (retry, trip breaker, replan) without
// inspecting error strings.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindUnknownCapability Kind = "unknown_capability"
	KindCircuitOpen       Kind = "circuit_open"
	KindTransient         Kind = "transient"
	KindPermanent         Kind = "permanent"
	KindAgentRejected     Kind = "agent_rejected"
	KindInterruptedByUser Kind = "interrupted_by_user"
	KindConflict          Kind = "conflict"
	KindStoreUnavailable  Kind = "store_unavailable"
)

// Sentinel errors for comparison via errors.Is.
var (
	ErrUnknownNode     = errors.New("memory: unknown node")
	ErrThreadNotFound  = errors.New("thread not found")
	ErrPlanTooLarge    = errors.New("plan exceeds maximum step count")
	ErrCheckpointMiss  = errors.New("checkpoint: key not found")
	ErrNotInitialized  = errors.New("component not initialized")
	ErrAlreadyStarted  = errors.New("component already started")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")
)

// FrameworkError carries a Kind plus structured context, mirroring the
// pack's Op/Kind/ID/Err shape so callers can both errors.Is() the
// sentinel and inspect the Kind for behavioral branching.
type FrameworkError struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	switch {
	case e.Op != "" && e.ID != "" && e.Err != nil:
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// NewError builds a FrameworkError for the given operation and kind.
func NewError(op string, kind Kind, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error if it (or something it wraps) is
// a *FrameworkError. Returns "" if none is found.
func KindOf(err error) Kind {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether an error's Kind should be retried by the
// transport layer per spec §7 (Transient is retried; Permanent,
// AgentRejected and CircuitOpen are not retried by the transport itself).
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// CountsTowardBreaker reports whether an error should count as a circuit
// breaker failure. Only transport-level Transient errors count; AgentRejected
// (an application-level failure) and CircuitOpen itself never do.
func CountsTowardBreaker(err error) bool {
	return KindOf(err) == KindTransient
}
