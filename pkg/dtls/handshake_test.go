package dtls

import (
	"testing"

	"golang.org/x/crypto/cryptobyte"

	"github.com/thread-tools/meshcop-go/pkg/ecjpake"
)

func testEngine(t *testing.T) *handshakeEngine {
	t.Helper()

	e, err := newHandshakeEngine(NewSession(Config{}), []byte("123456"))
	if err != nil {
		t.Fatalf("newHandshakeEngine failed: %v", err)
	}
	return e
}

// buildServerHello assembles a minimal ServerHello carrying the given
// kkpp extension body.
func buildServerHello(t *testing.T, suite uint16, kkpp []byte) []byte {
	t.Helper()

	var b cryptobyte.Builder
	b.AddUint16(versionDTLS12)
	b.AddBytes(make([]byte, 32)) // server random
	b.AddUint8(0)                // empty session_id
	b.AddUint16(suite)
	b.AddUint8(0) // null compression
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(extECJPAKEKKPP)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(kkpp)
		})
	})

	body, err := b.Bytes()
	if err != nil {
		t.Fatalf("failed to build ServerHello: %v", err)
	}
	return body
}

func TestBuildClientHelloStructure(t *testing.T) {
	e := testEngine(t)

	body, err := e.buildClientHello()
	if err != nil {
		t.Fatalf("buildClientHello failed: %v", err)
	}

	s := cryptobyte.String(body)
	var version uint16
	var random []byte
	var sessionID, cookie cryptobyte.String
	var suites cryptobyte.String

	if !s.ReadUint16(&version) || !s.ReadBytes(&random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint8LengthPrefixed(&cookie) ||
		!s.ReadUint16LengthPrefixed(&suites) {
		t.Fatal("failed to parse ClientHello prefix")
	}

	if version != versionDTLS12 {
		t.Errorf("version = %#x, want %#x", version, versionDTLS12)
	}
	if len(sessionID) != 0 {
		t.Errorf("session_id length = %d, want 0", len(sessionID))
	}
	if len(cookie) != 0 {
		t.Errorf("initial cookie length = %d, want 0", len(cookie))
	}

	// Exactly one offered suite: TLS_ECJPAKE_WITH_AES_128_CCM_8
	var suite uint16
	if !suites.ReadUint16(&suite) || !suites.Empty() {
		t.Fatal("expected exactly one cipher suite")
	}
	if suite != cipherSuiteECJPAKE {
		t.Errorf("suite = %#x, want %#x", suite, cipherSuiteECJPAKE)
	}

	var compressions cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&compressions) {
		t.Fatal("failed to parse compression methods")
	}

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		t.Fatal("failed to parse extensions block")
	}

	var sawKKPP bool
	for !extensions.Empty() {
		var extType uint16
		var extBody cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extBody) {
			t.Fatal("malformed extension")
		}
		if extType == extECJPAKEKKPP {
			sawKKPP = true
			if len(extBody) == 0 {
				t.Error("kkpp extension is empty")
			}
		}
	}
	if !sawKKPP {
		t.Error("ClientHello is missing the ecjpake_kkpp extension")
	}
}

func TestProcessServerHello(t *testing.T) {
	e := testEngine(t)

	server, err := ecjpake.NewContext(ecjpake.RoleServer, []byte("123456"))
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	sr1, err := server.WriteRound1()
	if err != nil {
		t.Fatalf("WriteRound1 failed: %v", err)
	}

	// Our round one must be generated first (ReadRound1 verifies proofs
	// against the peer role only, but the engine always sends first).
	if _, err := e.buildClientHello(); err != nil {
		t.Fatalf("buildClientHello failed: %v", err)
	}

	if err := e.processServerHello(buildServerHello(t, cipherSuiteECJPAKE, sr1)); err != nil {
		t.Fatalf("processServerHello failed: %v", err)
	}
}

func TestProcessServerHelloWrongSuite(t *testing.T) {
	e := testEngine(t)

	err := e.processServerHello(buildServerHello(t, 0xC0A8, nil))
	if err != errWrongCipherSuite {
		t.Errorf("err = %v, want errWrongCipherSuite", err)
	}
}

func TestProcessServerHelloMissingKKPP(t *testing.T) {
	e := testEngine(t)

	var b cryptobyte.Builder
	b.AddUint16(versionDTLS12)
	b.AddBytes(make([]byte, 32))
	b.AddUint8(0)
	b.AddUint16(cipherSuiteECJPAKE)
	b.AddUint8(0)
	body, err := b.Bytes()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if err := e.processServerHello(body); err != errMissingKKPP {
		t.Errorf("err = %v, want errMissingKKPP", err)
	}
}

func TestParseHelloVerifyRequest(t *testing.T) {
	var b cryptobyte.Builder
	b.AddUint16(versionDTLS12)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	})
	body, err := b.Bytes()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	cookie, err := parseHelloVerifyRequest(body)
	if err != nil {
		t.Fatalf("parseHelloVerifyRequest failed: %v", err)
	}
	if len(cookie) != 4 || cookie[0] != 0xDE {
		t.Errorf("cookie = %x", cookie)
	}
}

func TestFeedFragmentsReassembly(t *testing.T) {
	e := testEngine(t)
	e.state = hsWaitServerHello
	e.nextRecvSeq = 0

	body := make([]byte, 64)
	for i := range body {
		body[i] = byte(i)
	}

	// Split one 64-byte ServerHello into two 32-byte fragments
	frag1 := make([]byte, handshakeHeaderSize+32)
	frag1[0] = byte(typeServerHello)
	putUint24(frag1[1:4], len(body))
	putUint24(frag1[6:9], 0)
	putUint24(frag1[9:12], 32)
	copy(frag1[handshakeHeaderSize:], body[:32])

	frag2 := make([]byte, handshakeHeaderSize+32)
	frag2[0] = byte(typeServerHello)
	putUint24(frag2[1:4], len(body))
	putUint24(frag2[6:9], 32)
	putUint24(frag2[9:12], 32)
	copy(frag2[handshakeHeaderSize:], body[32:])

	e.feedFragments(frag1)
	if pm := e.reassembly[0]; pm == nil || pm.received != 32 {
		t.Fatal("first fragment not filed")
	}

	e.feedFragments(frag2)
	pm := e.reassembly[0]
	if pm == nil || pm.received != 64 {
		t.Fatal("second fragment not filed")
	}
	for i, b := range pm.body {
		if b != byte(i) {
			t.Fatalf("reassembled byte %d = %#x", i, b)
		}
	}
}

func TestFeedFragmentsDropsConsumedSeq(t *testing.T) {
	e := testEngine(t)
	e.nextRecvSeq = 3

	msg := marshalHandshake(typeServerHello, 2, []byte{1, 2, 3})
	e.feedFragments(msg)

	if len(e.reassembly) != 0 {
		t.Error("retransmitted message was filed")
	}
}

func TestHsStateString(t *testing.T) {
	states := map[hsState]string{
		hsSendClientHello:       "SendClientHello",
		hsWaitServerHello:       "WaitServerHello",
		hsWaitServerKeyExchange: "WaitServerKeyExchange",
		hsWaitServerHelloDone:   "WaitServerHelloDone",
		hsSendSecondFlight:      "SendSecondFlight",
		hsWaitChangeCipherSpec:  "WaitChangeCipherSpec",
		hsWaitFinished:          "WaitFinished",
		hsDone:                  "Done",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
