package envelope

import "fmt"

// MsgType identifies the payload carried by an envelope.
type MsgType uint16

const (
	MsgUnknown MsgType = 0

	// Pairing.
	MsgPairRequest MsgType = 1
	MsgPairReceipt MsgType = 2

	// Session negotiation.
	MsgSessionInitRequest  MsgType = 10
	MsgSessionInitResponse MsgType = 11
	MsgRenewRequest        MsgType = 12
	MsgRenewResponse       MsgType = 13
	MsgResumeRequest       MsgType = 14
	MsgSessionEnd          MsgType = 15
	MsgResumeResponse      MsgType = 16

	// Failure report.
	MsgError MsgType = 30
)

// String returns the message type name.
func (m MsgType) String() string {
	switch m {
	case MsgPairRequest:
		return "PairRequest"
	case MsgPairReceipt:
		return "PairReceipt"
	case MsgSessionInitRequest:
		return "SessionInitRequest"
	case MsgSessionInitResponse:
		return "SessionInitResponse"
	case MsgRenewRequest:
		return "RenewRequest"
	case MsgRenewResponse:
		return "RenewResponse"
	case MsgResumeRequest:
		return "ResumeRequest"
	case MsgSessionEnd:
		return "SessionEnd"
	case MsgResumeResponse:
		return "ResumeResponse"
	case MsgError:
		return "Error"
	default:
		return fmt.Sprintf("MsgType(%d)", uint16(m))
	}
}

// IsValid returns true if the message type is known.
func (m MsgType) IsValid() bool {
	switch m {
	case MsgPairRequest, MsgPairReceipt,
		MsgSessionInitRequest, MsgSessionInitResponse,
		MsgRenewRequest, MsgRenewResponse, MsgResumeRequest, MsgSessionEnd,
		MsgResumeResponse,
		MsgError:
		return true
	}
	return false
}
