package acl

import (
	"fmt"
	"strings"
)

// Permission is a set of capabilities.
type Permission uint32

const (
	// PermView allows receiving screen frames.
	PermView Permission = 1 << iota

	// PermControl allows injecting input.
	PermControl

	// PermClipboard allows clipboard sync.
	PermClipboard

	// PermFileTransfer allows file transfer in either direction.
	PermFileTransfer

	// PermAudio allows receiving device audio.
	PermAudio

	// PermUnattended allows sessions without interactive consent when the
	// device policy permits unattended access.
	PermUnattended
)

// PermNone is the empty set.
const PermNone Permission = 0

// PermAll is every defined permission.
const PermAll = PermView | PermControl | PermClipboard | PermFileTransfer | PermAudio | PermUnattended

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermView, "VIEW"},
	{PermControl, "CONTROL"},
	{PermClipboard, "CLIPBOARD"},
	{PermFileTransfer, "FILE_TRANSFER"},
	{PermAudio, "AUDIO"},
	{PermUnattended, "UNATTENDED"},
}

// Has returns true if every permission in q is present in p.
func (p Permission) Has(q Permission) bool {
	return p&q == q
}

// Intersect returns p ∩ q.
func (p Permission) Intersect(q Permission) Permission {
	return p & q
}

// IsEmpty returns true if no permission is set.
func (p Permission) IsEmpty() bool {
	return p == PermNone
}

// IsSubsetOf returns true if p ⊆ q.
func (p Permission) IsSubsetOf(q Permission) bool {
	return q.Has(p)
}

// IsValid returns true if only defined bits are set.
func (p Permission) IsValid() bool {
	return p&^PermAll == 0
}

// String returns the permissions joined with "|", e.g. "VIEW|CONTROL".
func (p Permission) String() string {
	if p == PermNone {
		return "NONE"
	}
	var parts []string
	for _, n := range permissionNames {
		if p.Has(n.perm) {
			parts = append(parts, n.name)
		}
	}
	if rest := p &^ PermAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParsePermissions parses names separated by "|", "," or whitespace.
// Names are case-insensitive; "ALL" selects every permission.
func ParsePermissions(s string) (Permission, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' ' || r == '\t'
	})
	var p Permission
	for _, f := range fields {
		name := strings.ToUpper(strings.TrimSpace(f))
		if name == "ALL" {
			p |= PermAll
			continue
		}
		found := false
		for _, n := range permissionNames {
			if n.name == name {
				p |= n.perm
				found = true
				break
			}
		}
		if !found {
			return PermNone, fmt.Errorf("acl: unknown permission %q", f)
		}
	}
	return p, nil
}
