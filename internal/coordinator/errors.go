package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Coordinator operations.
// Callers classify them with errors.Is; the error text is safe to show to
// the requesting client.

// Lookup errors.
var (
	// ErrNotFound indicates an unknown user or call.
	ErrNotFound = errors.New("not found")

	// ErrUserNotFound indicates the user is not registered.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrCallNotFound indicates the call id is unknown or already evicted.
	ErrCallNotFound = fmt.Errorf("call %w", ErrNotFound)
)

// Reachability errors.
var (
	// ErrOffline indicates a participant has no live endpoint.
	ErrOffline = errors.New("offline")

	// ErrTargetOffline indicates the call or signal target is not connected.
	ErrTargetOffline = fmt.Errorf("target user not found or %w", ErrOffline)

	// ErrCallerOffline indicates the caller is not registered, or left before
	// the call was answered.
	ErrCallerOffline = fmt.Errorf("caller not found or %w", ErrOffline)
)

// Call state errors.
var (
	// ErrInvalidTransition indicates the call is not in a state that allows
	// the requested operation.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrAlreadyInCall indicates the caller already participates in a
	// ringing or connected call.
	ErrAlreadyInCall = errors.New("already in a call")
)

// ErrInvalidRequest indicates a malformed request: missing ids, a self-call,
// or an undecodable payload.
var ErrInvalidRequest = errors.New("invalid request")

// ErrClosed is returned by operations on a coordinator after Close.
var ErrClosed = errors.New("coordinator closed")
