// File: internal/ipc/errors.go
package ipc

import "errors"

var (
	// ErrHandleInvalid signals that the window a scoped request targeted no
	// longer exists. Callers must treat this as a stale reference and widen
	// their scope, not as a transport failure.
	ErrHandleInvalid = errors.New("ipc: target window handle invalid or closed")

	// ErrTimeout signals that the server accepted the connection but did not
	// answer within the per-verb deadline.
	ErrTimeout = errors.New("ipc: request timed out")

	// ErrServerUnreachable signals that the automation server could not be
	// dialed at all.
	ErrServerUnreachable = errors.New("ipc: automation server unreachable")

	// ErrAuthFailed signals a rejected shared-secret handshake.
	ErrAuthFailed = errors.New("ipc: authentication handshake failed")

	// ErrInteractionFailed signals that the server could not resolve or drive
	// the requested element.
	ErrInteractionFailed = errors.New("ipc: interaction failed")
)
