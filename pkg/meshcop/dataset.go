package meshcop

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Timestamp is a dataset timestamp: 48-bit seconds and 16-bit ticks.
type Timestamp struct {
	Seconds uint64
	Ticks   uint16
}

// Channel is an operating channel: a channel page and a channel number.
type Channel struct {
	Page uint8
	ID   uint16
}

// SecurityPolicy is the key rotation time and policy flag bits.
type SecurityPolicy struct {
	RotationHours uint16
	Flags         uint16
}

// ChannelMask is a channel page with its 32-bit mask words.
type ChannelMask struct {
	Page  uint8
	Masks []uint32
}

// Dataset is a parsed Active Operational Dataset. Every field is
// optional; presence depends on what the border router returned.
type Dataset struct {
	ActiveTimestamp *Timestamp
	Channel         *Channel
	PANID           *uint16
	ExtendedPANID   []byte // 8 bytes
	NetworkName     *string
	PSKC            []byte // 16 bytes
	NetworkKey      []byte // 16 bytes
	MeshLocalPrefix []byte // 8 bytes, /64
	SecurityPolicy  *SecurityPolicy
	ChannelMask     *ChannelMask
}

// datasetDecoders maps a TLV type to its field decoder. A decoder
// returns false when the value length disagrees with the wire format,
// in which case the field stays absent and the scan continues.
var datasetDecoders = map[uint8]func(*Dataset, []byte) bool{
	TypeActiveTimestamp: decodeActiveTimestamp,
	TypeChannel:         decodeChannel,
	TypePANID:           decodePANID,
	TypeExtendedPANID:   decodeExtendedPANID,
	TypeNetworkName:     decodeNetworkName,
	TypePSKC:            decodePSKC,
	TypeNetworkKey:      decodeNetworkKey,
	TypeMeshLocalPrefix: decodeMeshLocalPrefix,
	TypeSecurityPolicy:  decodeSecurityPolicy,
	TypeChannelMask:     decodeChannelMask,
}

// ParseDataset decodes an Active Operational Dataset payload. Parsing is
// total: it never fails, it only leaves fields absent.
func ParseDataset(data []byte) *Dataset {
	ds := &Dataset{}
	scanTLVs(data, func(typ uint8, value []byte) {
		if decode, ok := datasetDecoders[typ]; ok {
			decode(ds, value)
		}
	})
	return ds
}

func decodeActiveTimestamp(ds *Dataset, v []byte) bool {
	if len(v) != 8 {
		return false
	}
	ds.ActiveTimestamp = &Timestamp{
		Seconds: uint48BE(v[:6]),
		Ticks:   binary.BigEndian.Uint16(v[6:8]),
	}
	return true
}

func decodeChannel(ds *Dataset, v []byte) bool {
	if len(v) != 3 {
		return false
	}
	ds.Channel = &Channel{
		Page: v[0],
		ID:   binary.BigEndian.Uint16(v[1:3]),
	}
	return true
}

func decodePANID(ds *Dataset, v []byte) bool {
	if len(v) != 2 {
		return false
	}
	panID := binary.BigEndian.Uint16(v)
	ds.PANID = &panID
	return true
}

func decodeExtendedPANID(ds *Dataset, v []byte) bool {
	if len(v) != 8 {
		return false
	}
	ds.ExtendedPANID = append([]byte(nil), v...)
	return true
}

func decodeNetworkName(ds *Dataset, v []byte) bool {
	name := string(v)
	ds.NetworkName = &name
	return true
}

func decodePSKC(ds *Dataset, v []byte) bool {
	if len(v) != 16 {
		return false
	}
	ds.PSKC = append([]byte(nil), v...)
	return true
}

func decodeNetworkKey(ds *Dataset, v []byte) bool {
	if len(v) != 16 {
		return false
	}
	ds.NetworkKey = append([]byte(nil), v...)
	return true
}

func decodeMeshLocalPrefix(ds *Dataset, v []byte) bool {
	if len(v) != 8 {
		return false
	}
	ds.MeshLocalPrefix = append([]byte(nil), v...)
	return true
}

func decodeSecurityPolicy(ds *Dataset, v []byte) bool {
	// At least rotation hours and flags; trailing bytes are version
	// extensions and are ignored.
	if len(v) < 4 {
		return false
	}
	ds.SecurityPolicy = &SecurityPolicy{
		RotationHours: binary.BigEndian.Uint16(v[0:2]),
		Flags:         binary.BigEndian.Uint16(v[2:4]),
	}
	return true
}

func decodeChannelMask(ds *Dataset, v []byte) bool {
	if len(v) < 2 {
		return false
	}
	maskLen := int(v[1])
	if maskLen%4 != 0 || len(v) != 2+maskLen {
		return false
	}

	cm := &ChannelMask{Page: v[0]}
	for off := 2; off < 2+maskLen; off += 4 {
		cm.Masks = append(cm.Masks, binary.BigEndian.Uint32(v[off:off+4]))
	}
	ds.ChannelMask = cm
	return true
}

// uint48BE decodes a 6-byte big-endian integer.
func uint48BE(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// String summarizes the dataset with key material redacted. Read the
// exported fields when the actual credentials are needed.
func (ds *Dataset) String() string {
	var parts []string
	if ds.NetworkName != nil {
		parts = append(parts, fmt.Sprintf("name=%q", *ds.NetworkName))
	}
	if ds.Channel != nil {
		parts = append(parts, fmt.Sprintf("channel=%d/%d", ds.Channel.Page, ds.Channel.ID))
	}
	if ds.PANID != nil {
		parts = append(parts, fmt.Sprintf("panid=0x%04X", *ds.PANID))
	}
	if ds.ExtendedPANID != nil {
		parts = append(parts, fmt.Sprintf("xpanid=%X", ds.ExtendedPANID))
	}
	if ds.NetworkKey != nil {
		parts = append(parts, "networkkey=<set>")
	}
	if ds.PSKC != nil {
		parts = append(parts, "pskc=<set>")
	}
	if ds.ActiveTimestamp != nil {
		parts = append(parts, fmt.Sprintf("timestamp=%d.%d", ds.ActiveTimestamp.Seconds, ds.ActiveTimestamp.Ticks))
	}
	return "Dataset{" + strings.Join(parts, " ") + "}"
}
