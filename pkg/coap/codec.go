package coap

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Option header escape values.
const (
	// extend8 (13) escapes into a one-byte extended field.
	extend8 = 13

	// extend16 (14) escapes into a two-byte extended field.
	extend16 = 14

	// reserved (15) is a format error in an option header nibble.
	reserved = 15

	extend8Offset  = 13
	extend16Offset = 269
)

// Encode serializes the message.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Token) > MaxTokenLength {
		return nil, ErrTokenTooLong
	}

	out := make([]byte, 0, 4+len(m.Token)+len(m.Payload)+16)

	out = append(out, Version<<6|byte(m.Type)<<4|byte(len(m.Token)))
	out = append(out, byte(m.Code))
	out = binary.BigEndian.AppendUint16(out, m.MessageID)
	out = append(out, m.Token...)

	// Options must be encoded in non-decreasing option-number order.
	options := make([]Option, len(m.Options))
	copy(options, m.Options)
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].Number < options[j].Number
	})

	var running uint16
	for _, opt := range options {
		delta := opt.Number - running
		running = opt.Number
		out = appendOptionHeader(out, int(delta), len(opt.Value))
		out = append(out, opt.Value...)
	}

	if len(m.Payload) > 0 {
		out = append(out, PayloadMarker)
		out = append(out, m.Payload...)
	}

	return out, nil
}

// appendOptionHeader writes the option header byte and any extended
// delta/length fields.
func appendOptionHeader(out []byte, delta, length int) []byte {
	dn, dext := optionNibble(delta)
	ln, lext := optionNibble(length)

	out = append(out, byte(dn)<<4|byte(ln))
	out = append(out, dext...)
	out = append(out, lext...)
	return out
}

// optionNibble maps a value to its header nibble and extended bytes.
func optionNibble(v int) (int, []byte) {
	switch {
	case v < extend8Offset:
		return v, nil
	case v < extend16Offset:
		return extend8, []byte{byte(v - extend8Offset)}
	default:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-extend16Offset))
		return extend16, ext
	}
}

// Decode parses a datagram into a Message. Unknown option numbers are
// consumed but not surfaced. Decoding rejects any datagram that is not
// well-formed CoAP version 1.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidMessage, len(data))
	}

	if version := data[0] >> 6; version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidMessage, version)
	}

	m := &Message{
		Type:      Type(data[0] >> 4 & 0x3),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}

	tokenLen := int(data[0] & 0x0F)
	if tokenLen > MaxTokenLength {
		return nil, fmt.Errorf("%w: token length %d", ErrInvalidMessage, tokenLen)
	}
	if len(data) < 4+tokenLen {
		return nil, fmt.Errorf("%w: truncated token", ErrInvalidMessage)
	}
	if tokenLen > 0 {
		m.Token = append([]byte(nil), data[4:4+tokenLen]...)
	}

	rest := data[4+tokenLen:]
	var running uint16

	for len(rest) > 0 {
		if rest[0] == PayloadMarker {
			if len(rest) == 1 {
				return nil, fmt.Errorf("%w: payload marker with no payload", ErrInvalidMessage)
			}
			m.Payload = append([]byte(nil), rest[1:]...)
			return m, nil
		}

		delta, length := int(rest[0]>>4), int(rest[0]&0x0F)
		rest = rest[1:]

		var err error
		if delta, rest, err = readExtended(delta, rest); err != nil {
			return nil, err
		}
		if length, rest, err = readExtended(length, rest); err != nil {
			return nil, err
		}

		if len(rest) < length {
			return nil, fmt.Errorf("%w: truncated option value", ErrInvalidMessage)
		}

		running += uint16(delta)
		if knownOption(running) {
			m.Options = append(m.Options, Option{
				Number: running,
				Value:  append([]byte(nil), rest[:length]...),
			})
		}
		rest = rest[length:]
	}

	return m, nil
}

// readExtended resolves an option-header nibble into its final value,
// consuming extended bytes as needed.
func readExtended(nibble int, rest []byte) (int, []byte, error) {
	switch nibble {
	case extend8:
		if len(rest) < 1 {
			return 0, nil, fmt.Errorf("%w: truncated option header", ErrInvalidMessage)
		}
		return int(rest[0]) + extend8Offset, rest[1:], nil
	case extend16:
		if len(rest) < 2 {
			return 0, nil, fmt.Errorf("%w: truncated option header", ErrInvalidMessage)
		}
		return int(binary.BigEndian.Uint16(rest)) + extend16Offset, rest[2:], nil
	case reserved:
		return 0, nil, fmt.Errorf("%w: reserved option nibble", ErrInvalidMessage)
	default:
		return nibble, rest, nil
	}
}
