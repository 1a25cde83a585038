package policy

import (
	"fmt"
	"strings"
)

// Mode selects when interactive consent is required.
type Mode int

const (
	// ModeAlwaysAsk requires consent for every session.
	ModeAlwaysAsk Mode = iota

	// ModeUnattendedAllowed skips consent for operators whose pairing
	// carries the unattended permission.
	ModeUnattendedAllowed

	// ModeTrustedOperatorsOnly skips consent for operators on the trusted list.
	ModeTrustedOperatorsOnly
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAlwaysAsk:
		return "always-ask"
	case ModeUnattendedAllowed:
		return "unattended-allowed"
	case ModeTrustedOperatorsOnly:
		return "trusted-operators-only"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// IsValid returns true for defined modes.
func (m Mode) IsValid() bool {
	return m >= ModeAlwaysAsk && m <= ModeTrustedOperatorsOnly
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	for m := ModeAlwaysAsk; m <= ModeTrustedOperatorsOnly; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, ErrInvalidMode
}
