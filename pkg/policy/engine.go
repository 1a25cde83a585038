// Package policy decides whether a session needs consent, which
// permissions it may have, and whether it is allowed right now.
//
// Engine holds only configuration. Every method is a deterministic
// function of its arguments and that configuration.
package policy

import (
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/identity"
)

// HourWindow is a half-open range of hours [Start, End) in the engine's
// location. Start > End wraps past midnight (22-6 allows 22:00 to 05:59).
// Start == End allows the whole day.
type HourWindow struct {
	Start int
	End   int
}

// Contains reports whether hour h (0-23) falls in the window.
func (w HourWindow) Contains(h int) bool {
	switch {
	case w.Start == w.End:
		return true
	case w.Start < w.End:
		return h >= w.Start && h < w.End
	default:
		return h >= w.Start || h < w.End
	}
}

func (w HourWindow) valid() bool {
	return w.Start >= 0 && w.Start <= 24 && w.End >= 0 && w.End <= 24
}

// Config configures an Engine.
type Config struct {
	// Mode selects when consent is required.
	Mode Mode

	// Trusted operators may skip consent in ModeTrustedOperatorsOnly.
	Trusted []identity.ID

	// AllowedDays restricts sessions to these weekdays. Empty allows all.
	AllowedDays []time.Weekday

	// AllowedHours restricts sessions to a daily window. Nil allows all.
	AllowedHours *HourWindow

	// Location for day and hour evaluation. Default: time.Local.
	Location *time.Location
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Mode.IsValid() {
		return ErrInvalidMode
	}
	if c.AllowedHours != nil && !c.AllowedHours.valid() {
		return ErrInvalidHours
	}
	return nil
}

// Engine evaluates device access policy. It is safe for concurrent use.
type Engine struct {
	mode     Mode
	trusted  map[identity.ID]struct{}
	days     map[time.Weekday]struct{}
	hours    *HourWindow
	location *time.Location
}

// NewEngine creates an engine.
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		mode:     config.Mode,
		trusted:  make(map[identity.ID]struct{}, len(config.Trusted)),
		location: config.Location,
	}
	if e.location == nil {
		e.location = time.Local
	}
	for _, id := range config.Trusted {
		e.trusted[id] = struct{}{}
	}
	if len(config.AllowedDays) > 0 {
		e.days = make(map[time.Weekday]struct{}, len(config.AllowedDays))
		for _, d := range config.AllowedDays {
			e.days[d] = struct{}{}
		}
	}
	if config.AllowedHours != nil {
		h := *config.AllowedHours
		e.hours = &h
	}
	return e, nil
}

// Mode returns the configured consent mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// IsTrusted reports whether operator is on the trusted list.
func (e *Engine) IsTrusted(operator identity.ID) bool {
	_, ok := e.trusted[operator]
	return ok
}

// RequiresConsent reports whether a session from operator, whose pairing
// grants paired, needs interactive consent.
func (e *Engine) RequiresConsent(operator identity.ID, paired acl.Permission) bool {
	switch e.mode {
	case ModeUnattendedAllowed:
		return !paired.Has(acl.PermUnattended)
	case ModeTrustedOperatorsOnly:
		return !e.IsTrusted(operator)
	default:
		return true
	}
}

// ValidatePermissions clamps requested to the pairing ceiling. It fails
// only if nothing is left.
func (e *Engine) ValidatePermissions(requested, paired acl.Permission) (acl.Permission, error) {
	granted := requested.Intersect(paired)
	if granted.IsEmpty() {
		return acl.PermNone, ErrEmptyPermissions
	}
	return granted, nil
}

// CheckTimeRestrictions fails if now is outside the allowed days or hours.
// A window that wraps midnight belongs to the day it started on.
func (e *Engine) CheckTimeRestrictions(now time.Time) error {
	local := now.In(e.location)
	day := local.Weekday()

	if e.hours != nil {
		if !e.hours.Contains(local.Hour()) {
			return ErrOutsideAllowedHours
		}
		if e.hours.Start > e.hours.End && local.Hour() < e.hours.End {
			day = (day + 6) % 7
		}
	}
	if e.days != nil {
		if _, ok := e.days[day]; !ok {
			return ErrOutsideAllowedDays
		}
	}
	return nil
}
