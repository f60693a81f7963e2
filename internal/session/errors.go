package session

import "github.com/pkg/errors"

// Failure kinds surfaced by the session and device operations. Callers match
// with errors.Is; none of these are retried automatically inside this
// package.
var (
	// ErrSessionNotFound and ErrDeviceNotFound are lookup misses.
	ErrSessionNotFound = errors.New("session not found")
	ErrDeviceNotFound  = errors.New("device not found")

	// ErrInvalidState marks operations rejected by the device state
	// machine, e.g. refreshing the QR of a connected device.
	ErrInvalidState = errors.New("invalid state")

	// ErrSessionNotConnected and ErrNoConnectedDevice are dispatch
	// rejections.
	ErrSessionNotConnected = errors.New("session not connected")
	ErrNoConnectedDevice   = errors.New("no connected device in session")

	// ErrInconsistentRegistry means a connected device has no live client
	// in the registry. Callers should trigger a QR refresh to recreate the
	// client instead of retrying the send.
	ErrInconsistentRegistry = errors.New("no client for device")
)
