// Package acl defines the permission bitmask granted to an operator.
//
// A Pairing carries the permission ceiling agreed at pairing time. Every
// session ticket carries a subset of that ceiling:
//
//	granted = requested ∩ pairing.Permissions
//
// Permissions are independent capabilities, not a hierarchy: Control does
// not imply Clipboard, and so on. PermUnattended is special in that it
// grants nothing on its own; it allows the policy engine to skip the
// interactive consent prompt when the device runs in unattended mode.
package acl
