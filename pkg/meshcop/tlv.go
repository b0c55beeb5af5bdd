package meshcop

import (
	"errors"
	"fmt"
)

// MeshCoP TLV types carried in an Active Operational Dataset.
const (
	// TypeChannel is the operating channel (page + channel number).
	TypeChannel uint8 = 0x00

	// TypePANID is the 802.15.4 PAN identifier.
	TypePANID uint8 = 0x01

	// TypeExtendedPANID is the 8-byte extended PAN identifier.
	TypeExtendedPANID uint8 = 0x02

	// TypeNetworkName is the UTF-8 network name.
	TypeNetworkName uint8 = 0x03

	// TypePSKC is the 16-byte pre-shared commissioner key.
	TypePSKC uint8 = 0x04

	// TypeNetworkKey is the 16-byte network master key.
	TypeNetworkKey uint8 = 0x05

	// TypeMeshLocalPrefix is the 8-byte mesh-local /64 prefix.
	TypeMeshLocalPrefix uint8 = 0x07

	// TypeSecurityPolicy is the rotation time and policy flags.
	TypeSecurityPolicy uint8 = 0x0C

	// TypeGet wraps the list of requested TLV types in a MGMT_*_GET.
	TypeGet uint8 = 0x0D

	// TypeActiveTimestamp is the dataset's active timestamp.
	TypeActiveTimestamp uint8 = 0x0E

	// TypeChannelMask is the supported channel mask.
	TypeChannelMask uint8 = 0x35
)

// TypeCommissionerID is the Commissioner ID TLV in MGMT_COMMISSIONER
// messages (the petition payload). The number overlaps TypePANID; the
// two live in different message namespaces.
const TypeCommissionerID uint8 = 0x01

// TLV encoding errors.
var (
	// ErrEmptyCommissionerID indicates an empty commissioner name.
	ErrEmptyCommissionerID = errors.New("commissioner id must not be empty")

	// ErrValueTooLong indicates a TLV value over 255 bytes.
	ErrValueTooLong = errors.New("tlv value exceeds 255 bytes")
)

// DefaultGetTypes is the TLV set requested for full joining credentials:
// channel, PAN ID, extended PAN ID, network name, network key and active
// timestamp.
var DefaultGetTypes = []uint8{
	TypeChannel,
	TypePANID,
	TypeExtendedPANID,
	TypeNetworkName,
	TypeNetworkKey,
	TypeActiveTimestamp,
}

// EncodeGetRequest builds the MGMT Get TLV: type 0x0D wrapping one byte
// per requested TLV type. Passing no types requests the default set.
func EncodeGetRequest(types ...uint8) ([]byte, error) {
	if len(types) == 0 {
		types = DefaultGetTypes
	}
	if len(types) > 255 {
		return nil, ErrValueTooLong
	}

	out := make([]byte, 0, 2+len(types))
	out = append(out, TypeGet, byte(len(types)))
	out = append(out, types...)
	return out, nil
}

// EncodeCommissionerID builds the Commissioner ID TLV from a UTF-8 name.
func EncodeCommissionerID(name string) ([]byte, error) {
	if name == "" {
		return nil, ErrEmptyCommissionerID
	}
	if len(name) > 255 {
		return nil, fmt.Errorf("%w: %d bytes", ErrValueTooLong, len(name))
	}

	out := make([]byte, 0, 2+len(name))
	out = append(out, TypeCommissionerID, byte(len(name)))
	out = append(out, name...)
	return out, nil
}

// scanTLVs walks a concatenation of (type, length, value) records,
// invoking fn for each complete record. A record whose length overruns
// the remaining payload terminates the scan cleanly.
func scanTLVs(data []byte, fn func(typ uint8, value []byte)) {
	for len(data) >= 2 {
		typ := data[0]
		length := int(data[1])
		if len(data) < 2+length {
			return
		}
		fn(typ, data[2:2+length])
		data = data[2+length:]
	}
}
