package dtls

import (
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	wire := marshalRecord(contentHandshake, 1, 0x0000AABBCCDD, payload)

	if len(wire) != recordHeaderSize+len(payload) {
		t.Fatalf("wire length = %d, want %d", len(wire), recordHeaderSize+len(payload))
	}

	records, err := parseRecords(wire)
	if err != nil {
		t.Fatalf("parseRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("parsed %d records, want 1", len(records))
	}

	r := records[0]
	if r.typ != contentHandshake {
		t.Errorf("typ = %d, want %d", r.typ, contentHandshake)
	}
	if r.epoch != 1 {
		t.Errorf("epoch = %d, want 1", r.epoch)
	}
	if r.seq != 0x0000AABBCCDD {
		t.Errorf("seq = %#x, want 0xAABBCCDD", r.seq)
	}
	if !bytes.Equal(r.payload, payload) {
		t.Errorf("payload = %x, want %x", r.payload, payload)
	}
}

func TestParseRecordsMultiple(t *testing.T) {
	// A server flight: three records in one datagram
	var datagram []byte
	datagram = append(datagram, marshalRecord(contentHandshake, 0, 1, []byte{0xAA})...)
	datagram = append(datagram, marshalRecord(contentHandshake, 0, 2, []byte{0xBB, 0xCC})...)
	datagram = append(datagram, marshalRecord(contentChangeCipherSpec, 0, 3, []byte{0x01})...)

	records, err := parseRecords(datagram)
	if err != nil {
		t.Fatalf("parseRecords failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("parsed %d records, want 3", len(records))
	}
	if records[2].typ != contentChangeCipherSpec {
		t.Errorf("third record typ = %d, want ChangeCipherSpec", records[2].typ)
	}
}

func TestParseRecordsTruncated(t *testing.T) {
	wire := marshalRecord(contentHandshake, 0, 0, []byte{1, 2, 3, 4, 5})

	for _, cut := range []int{1, recordHeaderSize - 1, recordHeaderSize + 2} {
		if _, err := parseRecords(wire[:cut]); err == nil {
			t.Errorf("parseRecords accepted %d-byte truncation", cut)
		}
	}
}

func TestParseRecordsBadVersion(t *testing.T) {
	wire := marshalRecord(contentHandshake, 0, 0, []byte{1})
	wire[1], wire[2] = 0x03, 0x03 // TLS 1.2, not DTLS

	if _, err := parseRecords(wire); err == nil {
		t.Error("parseRecords accepted a non-DTLS version")
	}
}

func TestHandshakeHeaderRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte{0x5A}, 40)
	msg := marshalHandshake(typeClientHello, 3, body)

	h, frag, err := parseHandshakeHeader(msg)
	if err != nil {
		t.Fatalf("parseHandshakeHeader failed: %v", err)
	}

	if h.typ != typeClientHello {
		t.Errorf("typ = %d, want %d", h.typ, typeClientHello)
	}
	if h.length != len(body) || h.fragLength != len(body) || h.fragOffset != 0 {
		t.Errorf("lengths = %d/%d/%d, want %d/%d/0", h.length, h.fragLength, h.fragOffset, len(body), len(body))
	}
	if h.messageSeq != 3 {
		t.Errorf("messageSeq = %d, want 3", h.messageSeq)
	}
	if !bytes.Equal(frag, body) {
		t.Error("fragment does not match body")
	}
}

func TestParseHandshakeHeaderTruncated(t *testing.T) {
	msg := marshalHandshake(typeFinished, 0, []byte{1, 2, 3})

	if _, _, err := parseHandshakeHeader(msg[:handshakeHeaderSize-1]); err == nil {
		t.Error("accepted truncated header")
	}
	if _, _, err := parseHandshakeHeader(msg[:len(msg)-1]); err == nil {
		t.Error("accepted truncated fragment")
	}
}

func TestUint48RoundTrip(t *testing.T) {
	var b [6]byte
	for _, v := range []uint64{0, 1, 0xFFFF, 0xFFFFFFFFFFFF} {
		putUint48(b[:], v)
		if got := uint48(b[:]); got != v {
			t.Errorf("uint48 round trip: got %#x, want %#x", got, v)
		}
	}
}
