package invite

import "errors"

var (
	// ErrPermissionDenied is returned when the requester lacks
	// MANAGE_INVITES. Nothing is appended.
	ErrPermissionDenied = errors.New("invite: permission denied")
	// ErrInvalidExpiry is returned for unusable expiry options.
	ErrInvalidExpiry = errors.New("invite: invalid expiry")
	// ErrInvalidCode is returned when a claim names no invite code.
	ErrInvalidCode = errors.New("invite: invalid code")
)
