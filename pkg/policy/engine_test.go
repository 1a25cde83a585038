package policy

import (
	"testing"
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/status"
)

func mustEngine(t *testing.T, c Config) *Engine {
	t.Helper()
	e, err := NewEngine(c)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestRequiresConsent(t *testing.T) {
	trusted := identity.ID{1}
	stranger := identity.ID{2}

	tests := []struct {
		name     string
		mode     Mode
		operator identity.ID
		paired   acl.Permission
		want     bool
	}{
		{"always ask", ModeAlwaysAsk, trusted, acl.PermAll, true},
		{"unattended with permission", ModeUnattendedAllowed, stranger, acl.PermView | acl.PermUnattended, false},
		{"unattended without permission", ModeUnattendedAllowed, stranger, acl.PermView, true},
		{"trusted operator", ModeTrustedOperatorsOnly, trusted, acl.PermView, false},
		{"untrusted operator", ModeTrustedOperatorsOnly, stranger, acl.PermAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mustEngine(t, Config{Mode: tt.mode, Trusted: []identity.ID{trusted}})
			if got := e.RequiresConsent(tt.operator, tt.paired); got != tt.want {
				t.Errorf("RequiresConsent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePermissions_Ceiling(t *testing.T) {
	e := mustEngine(t, Config{})

	paired := acl.PermView | acl.PermControl
	got, err := e.ValidatePermissions(acl.PermView|acl.PermControl|acl.PermFileTransfer, paired)
	if err != nil {
		t.Fatalf("ValidatePermissions() error = %v", err)
	}
	if got != acl.PermView|acl.PermControl {
		t.Errorf("granted = %v, want VIEW|CONTROL", got)
	}

	_, err = e.ValidatePermissions(acl.PermFileTransfer, paired)
	if err != ErrEmptyPermissions {
		t.Fatalf("error = %v, want ErrEmptyPermissions", err)
	}
	if status.KindOf(err) != status.KindPermission {
		t.Errorf("KindOf = %v, want PermissionError", status.KindOf(err))
	}
}

func TestCheckTimeRestrictions(t *testing.T) {
	// 2024-01-01 is a Monday.
	at := func(day, hour int) time.Time {
		return time.Date(2024, 1, day, hour, 30, 0, 0, time.UTC)
	}
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	tests := []struct {
		name    string
		config  Config
		now     time.Time
		wantErr error
	}{
		{"unrestricted", Config{}, at(6, 3), nil},
		{"office hours inside", Config{AllowedHours: &HourWindow{9, 17}}, at(1, 9), nil},
		{"office hours end exclusive", Config{AllowedHours: &HourWindow{9, 17}}, at(1, 17), ErrOutsideAllowedHours},
		{"night shift late", Config{AllowedHours: &HourWindow{22, 6}}, at(1, 23), nil},
		{"night shift early", Config{AllowedHours: &HourWindow{22, 6}}, at(2, 5), nil},
		{"night shift midday", Config{AllowedHours: &HourWindow{22, 6}}, at(2, 12), ErrOutsideAllowedHours},
		{"weekday allowed", Config{AllowedDays: weekdays}, at(5, 12), nil},
		{"weekend denied", Config{AllowedDays: weekdays}, at(6, 12), ErrOutsideAllowedDays},
		// Saturday 02:30 belongs to Friday's night window.
		{"wrap keeps start day", Config{AllowedDays: weekdays, AllowedHours: &HourWindow{22, 6}}, at(6, 2), nil},
		// Monday 02:30 belongs to Sunday's night window.
		{"wrap from sunday", Config{AllowedDays: weekdays, AllowedHours: &HourWindow{22, 6}}, at(1, 2), ErrOutsideAllowedDays},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Location = time.UTC
			e := mustEngine(t, tt.config)
			if err := e.CheckTimeRestrictions(tt.now); err != tt.wantErr {
				t.Errorf("CheckTimeRestrictions() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckTimeRestrictions_Location(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	e := mustEngine(t, Config{AllowedHours: &HourWindow{9, 17}, Location: loc})

	// 00:30 UTC is 10:30 local.
	if err := e.CheckTimeRestrictions(time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)); err != nil {
		t.Errorf("CheckTimeRestrictions() = %v, want nil", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewEngine(Config{Mode: Mode(9)}); err != ErrInvalidMode {
		t.Errorf("invalid mode error = %v", err)
	}
	if _, err := NewEngine(Config{AllowedHours: &HourWindow{-1, 25}}); err != ErrInvalidHours {
		t.Errorf("invalid hours error = %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for m := ModeAlwaysAsk; m <= ModeTrustedOperatorsOnly; m++ {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("yolo"); err != ErrInvalidMode {
		t.Errorf("ParseMode(yolo) error = %v", err)
	}
}
