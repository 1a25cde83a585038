package pairing

import "fmt"

// HostState is the device-side pairing state.
type HostState uint8

const (
	HostIdle HostState = iota
	HostInviteGenerated
	HostAwaitingRequest
	HostAwaitingApproval
	HostPaired
	HostFailed
)

// String returns the state name.
func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "Idle"
	case HostInviteGenerated:
		return "InviteGenerated"
	case HostAwaitingRequest:
		return "AwaitingRequest"
	case HostAwaitingApproval:
		return "AwaitingApproval"
	case HostPaired:
		return "Paired"
	case HostFailed:
		return "Failed"
	default:
		return fmt.Sprintf("HostState(%d)", uint8(s))
	}
}

// ControllerState is the operator-side pairing state.
type ControllerState uint8

const (
	ControllerIdle ControllerState = iota
	ControllerInviteImported
	ControllerRequestSent
	ControllerAwaitingSAS
	ControllerPaired
	ControllerFailed
)

// String returns the state name.
func (s ControllerState) String() string {
	switch s {
	case ControllerIdle:
		return "Idle"
	case ControllerInviteImported:
		return "InviteImported"
	case ControllerRequestSent:
		return "RequestSent"
	case ControllerAwaitingSAS:
		return "AwaitingSAS"
	case ControllerPaired:
		return "Paired"
	case ControllerFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ControllerState(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s ControllerState) Terminal() bool {
	return s == ControllerPaired || s == ControllerFailed
}
