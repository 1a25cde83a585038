package config

import "github.com/backkem/trustlink/pkg/status"

// Configuration errors.
var (
	// ErrInvalidRole indicates a role other than "device" or "operator".
	ErrInvalidRole = status.New(status.KindInternal, "config: role must be device or operator")

	// ErrKeystoreRequired indicates no identity keystore path.
	ErrKeystoreRequired = status.New(status.KindInternal, "config: identity.keystore is required")

	// ErrInvalidHours indicates an allowed-hours window outside 0-24.
	ErrInvalidHours = status.New(status.KindInternal, "config: allowedHours must lie within 0-24")

	// ErrInvalidDay indicates an unknown weekday name.
	ErrInvalidDay = status.New(status.KindInternal, "config: unknown weekday")

	// ErrInvalidCandidate indicates a transport candidate without an address.
	ErrInvalidCandidate = status.New(status.KindInternal, "config: transport candidate needs kind and address")

	// ErrWrongRole indicates a device-only or operator-only accessor used
	// with the other role.
	ErrWrongRole = status.New(status.KindInternal, "config: not valid for this role")
)
