package session

import (
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/identity"
)

// Policy is the decision surface the host consults. *policy.Engine
// implements it.
type Policy interface {
	RequiresConsent(operator identity.ID, paired acl.Permission) bool
	ValidatePermissions(requested, paired acl.Permission) (acl.Permission, error)
	CheckTimeRestrictions(now time.Time) error
}

// ChannelPermission returns the permission a ticket must hold for traffic
// on ch. The control channel carries session signalling and needs none.
func ChannelPermission(ch Channel) acl.Permission {
	switch ch {
	case ChannelFrames:
		return acl.PermView
	case ChannelClipboard:
		return acl.PermClipboard
	case ChannelFiles:
		return acl.PermFileTransfer
	default:
		return acl.PermNone
	}
}
