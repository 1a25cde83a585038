package policy

import "github.com/backkem/trustlink/pkg/status"

// Policy errors.
var (
	// ErrEmptyPermissions indicates requested ∩ paired is empty.
	ErrEmptyPermissions = status.New(status.KindPermission, "policy: no permitted capabilities requested")

	// ErrOutsideAllowedDays indicates a request on a disallowed weekday.
	ErrOutsideAllowedDays = status.New(status.KindPolicy, "policy: access not allowed on this day")

	// ErrOutsideAllowedHours indicates a request outside the allowed hours.
	ErrOutsideAllowedHours = status.New(status.KindPolicy, "policy: access not allowed at this time")

	// ErrInvalidMode indicates an unknown consent mode.
	ErrInvalidMode = status.New(status.KindPolicy, "policy: invalid consent mode")

	// ErrInvalidHours indicates an hour window outside 0-24.
	ErrInvalidHours = status.New(status.KindPolicy, "policy: invalid hour window")
)
