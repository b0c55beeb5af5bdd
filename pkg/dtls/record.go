package dtls

import (
	"encoding/binary"
	"errors"
)

// Record layer constants.
const (
	// recordHeaderSize is the DTLS record header size in bytes.
	recordHeaderSize = 13

	// handshakeHeaderSize is the DTLS handshake message header size.
	handshakeHeaderSize = 12

	// versionDTLS12 is the DTLS 1.2 wire version.
	versionDTLS12 = 0xfefd

	// maxDatagramSize bounds a received datagram.
	maxDatagramSize = 4096
)

// Record content types.
type contentType uint8

const (
	contentChangeCipherSpec contentType = 20
	contentAlert            contentType = 21
	contentHandshake        contentType = 22
	contentApplicationData  contentType = 23
)

// Handshake message types.
type handshakeType uint8

const (
	typeClientHello        handshakeType = 1
	typeServerHello        handshakeType = 2
	typeHelloVerifyRequest handshakeType = 3
	typeServerKeyExchange  handshakeType = 12
	typeServerHelloDone    handshakeType = 14
	typeClientKeyExchange  handshakeType = 16
	typeFinished           handshakeType = 20
)

// Record codec errors.
var (
	errRecordTruncated  = errors.New("truncated record")
	errRecordVersion    = errors.New("unexpected record version")
	errMessageTruncated = errors.New("truncated handshake message")
)

// record is one parsed DTLS record.
type record struct {
	typ     contentType
	epoch   uint16
	seq     uint64
	payload []byte
}

// marshalRecord builds a record with the 13-byte DTLS header.
// seq is the 48-bit record sequence number within the epoch.
func marshalRecord(typ contentType, epoch uint16, seq uint64, payload []byte) []byte {
	out := make([]byte, recordHeaderSize+len(payload))
	out[0] = byte(typ)
	binary.BigEndian.PutUint16(out[1:3], versionDTLS12)
	binary.BigEndian.PutUint16(out[3:5], epoch)
	putUint48(out[5:11], seq)
	binary.BigEndian.PutUint16(out[11:13], uint16(len(payload)))
	copy(out[recordHeaderSize:], payload)
	return out
}

// parseRecords splits a datagram into its records. A datagram may carry
// several records back to back (a server flight commonly does).
func parseRecords(datagram []byte) ([]record, error) {
	var records []record

	for len(datagram) > 0 {
		if len(datagram) < recordHeaderSize {
			return nil, errRecordTruncated
		}

		version := binary.BigEndian.Uint16(datagram[1:3])
		// Accept DTLS 1.0 on the ClientHello response path; some stacks
		// answer the first flight with 0xfeff.
		if version != versionDTLS12 && version != 0xfeff {
			return nil, errRecordVersion
		}

		length := int(binary.BigEndian.Uint16(datagram[11:13]))
		if len(datagram) < recordHeaderSize+length {
			return nil, errRecordTruncated
		}

		records = append(records, record{
			typ:     contentType(datagram[0]),
			epoch:   binary.BigEndian.Uint16(datagram[3:5]),
			seq:     uint48(datagram[5:11]),
			payload: datagram[recordHeaderSize : recordHeaderSize+length],
		})
		datagram = datagram[recordHeaderSize+length:]
	}

	return records, nil
}

// handshakeHeader is the 12-byte DTLS handshake message header.
type handshakeHeader struct {
	typ        handshakeType
	length     int
	messageSeq uint16
	fragOffset int
	fragLength int
}

// marshalHandshake builds a single-fragment handshake message.
func marshalHandshake(typ handshakeType, messageSeq uint16, body []byte) []byte {
	out := make([]byte, handshakeHeaderSize+len(body))
	out[0] = byte(typ)
	putUint24(out[1:4], len(body))
	binary.BigEndian.PutUint16(out[4:6], messageSeq)
	putUint24(out[6:9], 0)
	putUint24(out[9:12], len(body))
	copy(out[handshakeHeaderSize:], body)
	return out
}

// parseHandshakeHeader decodes a handshake header and returns the fragment
// bytes that follow it.
func parseHandshakeHeader(data []byte) (handshakeHeader, []byte, error) {
	if len(data) < handshakeHeaderSize {
		return handshakeHeader{}, nil, errMessageTruncated
	}

	h := handshakeHeader{
		typ:        handshakeType(data[0]),
		length:     uint24(data[1:4]),
		messageSeq: binary.BigEndian.Uint16(data[4:6]),
		fragOffset: uint24(data[6:9]),
		fragLength: uint24(data[9:12]),
	}

	rest := data[handshakeHeaderSize:]
	if len(rest) < h.fragLength {
		return handshakeHeader{}, nil, errMessageTruncated
	}
	if h.fragOffset+h.fragLength > h.length {
		return handshakeHeader{}, nil, errMessageTruncated
	}

	return h, rest[:h.fragLength], nil
}

// --- integer helpers ---

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func uint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
