// Package session implements session authorization and the per-session
// channel crypto.
//
// A session Host (device side) turns a SessionInitRequest from a paired
// operator into a signed SessionTicket plus transport parameters, after
// policy and consent checks. A session Controller (operator side) verifies
// that response, derives the same channel keys, connects, renews the
// ticket before it expires, and resumes after transport loss without a
// full handshake.
//
// Channel keys are derived once per session (and again on resume) from
// the session binding, the ticket id and an ephemeral X25519 exchange:
// two directions times four channels. Each channel's sender uses strictly
// increasing sequence numbers; each receiver runs them through a
// ReplayFilter.
package session

import "fmt"

// Direction is the flow a key protects.
type Direction uint8

const (
	// HostToController protects traffic sent by the device.
	HostToController Direction = iota
	// ControllerToHost protects traffic sent by the operator.
	ControllerToHost
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case HostToController:
		return "host->controller"
	case ControllerToHost:
		return "controller->host"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// IsValid returns true for defined directions.
func (d Direction) IsValid() bool {
	return d <= ControllerToHost
}

// Channel is a logical stream within a session.
type Channel uint8

const (
	ChannelControl Channel = iota
	ChannelFrames
	ChannelClipboard
	ChannelFiles

	numChannels = 4
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelFrames:
		return "frames"
	case ChannelClipboard:
		return "clipboard"
	case ChannelFiles:
		return "files"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

// IsValid returns true for defined channels.
func (c Channel) IsValid() bool {
	return c < numChannels
}

// StreamID identifies one (direction, channel) pair. It is the stream half
// of every channel nonce and the key into the replay filter.
func StreamID(d Direction, c Channel) uint32 {
	return uint32(d)<<8 | uint32(c)
}

// Role is which side of the session the local node plays.
type Role uint8

const (
	RoleHost Role = iota
	RoleController
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "controller"
}

// Send returns the direction this role encrypts with.
func (r Role) Send() Direction {
	if r == RoleHost {
		return HostToController
	}
	return ControllerToHost
}

// Recv returns the direction this role decrypts with.
func (r Role) Recv() Direction {
	if r == RoleHost {
		return ControllerToHost
	}
	return HostToController
}

// State is a session state machine's state.
type State uint8

const (
	StateIdle State = iota
	StateRequestSent
	StateRequestReceived
	StateAwaitingConsent
	StateNegotiating
	StateTicketReceived
	StateConnecting
	StateActive
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequestSent:
		return "RequestSent"
	case StateRequestReceived:
		return "RequestReceived"
	case StateAwaitingConsent:
		return "AwaitingConsent"
	case StateNegotiating:
		return "Negotiating"
	case StateTicketReceived:
		return "TicketReceived"
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal returns true for Ended.
func (s State) Terminal() bool {
	return s == StateEnded
}
