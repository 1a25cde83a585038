// Package discovery advertises devices on the local network via DNS-SD and
// resolves their LAN addresses into direct transport candidates.
//
// A device registers one instance of ServiceName whose instance name is
// derived from its identity. The TXT record carries the full device ID so
// an operator can check that the instance belongs to the device it paired
// with before offering its addresses. mDNS is unauthenticated; everything
// sent to a resolved address is still sealed to the pinned key.
package discovery

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/backkem/trustlink/pkg/identity"
)

const (
	// ServiceName is the DNS-SD service type.
	ServiceName = "_trustlink._udp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultPort is the default device port.
	DefaultPort = 7420

	// TXTVersion is the TXT record format version.
	TXTVersion = 1

	// MaxLabelLength bounds the label in the TXT record.
	MaxLabelLength = 63

	// instanceIDBytes is the number of ID bytes in an instance name.
	instanceIDBytes = 16
)

// TXT record keys.
const (
	txtKeyID      = "id"
	txtKeyVersion = "v"
	txtKeyLabel   = "n"
)

// InstanceName returns the DNS-SD instance name for a device: the first
// 16 bytes of its ID in uppercase hex.
func InstanceName(id identity.ID) string {
	return strings.ToUpper(hex.EncodeToString(id[:instanceIDBytes]))
}

// MatchesInstance reports whether instance is the instance name for id.
// Case is ignored.
func MatchesInstance(instance string, id identity.ID) bool {
	return strings.EqualFold(instance, InstanceName(id))
}

// TXT is the decoded TXT record of a device instance.
type TXT struct {
	DeviceID identity.ID
	Version  int
	Label    string
}

// Validate checks the record before it is advertised.
func (t *TXT) Validate() error {
	if t.DeviceID.IsZero() {
		return ErrInvalidTXTRecord
	}
	if len(t.Label) > MaxLabelLength {
		return ErrInvalidLabel
	}
	return nil
}

// Encode returns the TXT strings.
func (t *TXT) Encode() []string {
	txt := []string{
		txtKeyID + "=" + t.DeviceID.String(),
		txtKeyVersion + "=" + strconv.Itoa(t.Version),
	}
	if t.Label != "" {
		txt = append(txt, txtKeyLabel+"="+t.Label)
	}
	return txt
}

// ParseTXT parses raw TXT record strings into a map. Records without a
// key are ignored; later duplicates win.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// DecodeTXT parses a device TXT record. The id key is required.
func DecodeTXT(records []string) (*TXT, error) {
	m := ParseTXT(records)
	raw, ok := m[txtKeyID]
	if !ok {
		return nil, ErrInvalidTXTRecord
	}
	id, err := identity.ParseID(raw)
	if err != nil {
		return nil, ErrInvalidTXTRecord
	}
	t := &TXT{DeviceID: id, Label: m[txtKeyLabel]}
	if v, ok := m[txtKeyVersion]; ok {
		t.Version, err = strconv.Atoi(v)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
	}
	return t, nil
}
