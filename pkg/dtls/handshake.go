package dtls

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v3/pkg/crypto/prf"
	"golang.org/x/crypto/cryptobyte"

	"github.com/thread-tools/meshcop-go/pkg/ecjpake"
)

// Handshake constants.
const (
	// maxHandshakeIterations caps the handshake step loop. With the 10 s
	// read timeout this bounds worst-case connect time. Every read timeout
	// retransmits the current flight and continues, so a dead peer is given
	// up on only when the cap is reached.
	maxHandshakeIterations = 100

	// initialRetransmitTimeout is the first flight retransmission timeout.
	initialRetransmitTimeout = time.Second

	// verifyDataLength is the TLS 1.2 Finished verify_data size.
	verifyDataLength = 12
)

// TLS extension numbers used by the handshake.
const (
	extSupportedGroups uint16 = 10
	extPointFormats    uint16 = 11
	extECJPAKEKKPP     uint16 = 256
)

const groupSecp256r1 uint16 = 23

// Handshake step outcomes. The connect loop treats these as "keep going";
// anything else is fatal.
var (
	errWantRead  = errors.New("want read")
	errWantWrite = errors.New("want write")
)

// Handshake failures.
var (
	errUnexpectedMessage = errors.New("unexpected handshake message")
	errBadServerHello    = errors.New("malformed ServerHello")
	errWrongCipherSuite  = errors.New("server selected a different cipher suite")
	errMissingKKPP       = errors.New("ServerHello carries no ecjpake_kkpp extension")
	errBadFinished       = errors.New("server Finished verification failed")
	errHandshakeTimedOut = errors.New("handshake step budget exhausted")
)

// hsState enumerates the client handshake states.
type hsState uint8

const (
	hsSendClientHello hsState = iota
	hsWaitServerHello
	hsWaitServerKeyExchange
	hsWaitServerHelloDone
	hsSendSecondFlight
	hsWaitChangeCipherSpec
	hsWaitFinished
	hsDone
)

// String returns the state name, used in errors and handshake events.
func (s hsState) String() string {
	switch s {
	case hsSendClientHello:
		return "SendClientHello"
	case hsWaitServerHello:
		return "WaitServerHello"
	case hsWaitServerKeyExchange:
		return "WaitServerKeyExchange"
	case hsWaitServerHelloDone:
		return "WaitServerHelloDone"
	case hsSendSecondFlight:
		return "SendSecondFlight"
	case hsWaitChangeCipherSpec:
		return "WaitChangeCipherSpec"
	case hsWaitFinished:
		return "WaitFinished"
	case hsDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// flightRecord is one record of the current outgoing flight, kept around
// for retransmission.
type flightRecord struct {
	typ       contentType
	payload   []byte
	encrypted bool
}

// handshakeEngine drives the client side of the EC-JPAKE DTLS handshake.
// It is single-use; Session.Connect builds one per attempt.
type handshakeEngine struct {
	conn  *Session
	jpake *ecjpake.Context

	state     hsState
	iteration int

	clientRandom [32]byte
	serverRandom [32]byte
	cookie       []byte

	// transcript accumulates handshake messages in single-fragment form
	// for the Finished MAC. Reset when a HelloVerifyRequest restarts the
	// hello exchange.
	transcript bytes.Buffer

	nextSendSeq uint16
	nextRecvSeq uint16

	// reassembly holds partially received handshake messages by sequence.
	reassembly map[uint16]*partialMessage

	flight []flightRecord

	retransmitTimeout time.Duration
	masterSecret      []byte
}

// partialMessage reassembles a fragmented handshake message.
type partialMessage struct {
	typ      handshakeType
	body     []byte
	received int
}

// newHandshakeEngine creates an engine bound to the connection.
func newHandshakeEngine(conn *Session, password []byte) (*handshakeEngine, error) {
	jpake, err := ecjpake.NewContext(ecjpake.RoleClient, password)
	if err != nil {
		return nil, err
	}

	retransmit := initialRetransmitTimeout
	if rt := conn.readTimeout(); rt < retransmit {
		retransmit = rt
	}

	e := &handshakeEngine{
		conn:              conn,
		jpake:             jpake,
		state:             hsSendClientHello,
		reassembly:        make(map[uint16]*partialMessage),
		retransmitTimeout: retransmit,
	}
	if _, err := rand.Read(e.clientRandom[:]); err != nil {
		return nil, fmt.Errorf("failed to draw client random: %w", err)
	}
	return e, nil
}

// step performs one unit of handshake work. It returns true when the
// handshake is complete; errWantRead/errWantWrite signal that the caller
// should loop. Any other error is fatal.
func (e *handshakeEngine) step() (bool, error) {
	e.iteration++

	switch e.state {
	case hsSendClientHello:
		if err := e.sendClientHello(); err != nil {
			return false, err
		}
		e.state = hsWaitServerHello
		return false, errWantWrite

	case hsSendSecondFlight:
		if err := e.sendSecondFlight(); err != nil {
			return false, err
		}
		e.state = hsWaitChangeCipherSpec
		return false, errWantWrite

	case hsWaitServerHello, hsWaitServerKeyExchange, hsWaitServerHelloDone,
		hsWaitChangeCipherSpec, hsWaitFinished:
		if err := e.readAndProcess(); err != nil {
			return false, err
		}
		return e.state == hsDone, nil

	case hsDone:
		return true, nil

	default:
		return false, fmt.Errorf("%w: engine in state %s", errUnexpectedMessage, e.state)
	}
}

// sendClientHello builds and transmits flight one.
func (e *handshakeEngine) sendClientHello() error {
	body, err := e.buildClientHello()
	if err != nil {
		return err
	}

	msg := marshalHandshake(typeClientHello, e.nextSendSeq, body)
	e.nextSendSeq++

	// Only the cookie-bearing ClientHello enters the Finished transcript;
	// buildClientHello is reinvoked after HelloVerifyRequest with the
	// transcript reset, so appending unconditionally is correct.
	e.transcript.Write(msg)

	e.flight = []flightRecord{{typ: contentHandshake, payload: msg}}
	return e.sendFlight()
}

// buildClientHello assembles the ClientHello body: DTLS 1.2, the single
// EC-JPAKE ciphersuite, and the kkpp extension carrying round one.
func (e *handshakeEngine) buildClientHello() ([]byte, error) {
	round1, err := e.jpake.WriteRound1()
	if err != nil {
		return nil, err
	}

	var b cryptobyte.Builder
	b.AddUint16(versionDTLS12)
	b.AddBytes(e.clientRandom[:])
	b.AddUint8(0) // empty session_id
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(e.cookie)
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(cipherSuiteECJPAKE)
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(0) // null compression
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(extSupportedGroups)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(groupSecp256r1)
			})
		})
		b.AddUint16(extPointFormats)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0) // uncompressed
			})
		})
		b.AddUint16(extECJPAKEKKPP)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(round1)
		})
	})

	return b.Bytes()
}

// sendSecondFlight builds and transmits ClientKeyExchange,
// ChangeCipherSpec and Finished, deriving the session keys in between.
func (e *handshakeEngine) sendSecondFlight() error {
	round2, err := e.jpake.WriteRound2()
	if err != nil {
		return err
	}

	ckeMsg := marshalHandshake(typeClientKeyExchange, e.nextSendSeq, round2)
	e.nextSendSeq++
	e.transcript.Write(ckeMsg)

	// Both EC-JPAKE rounds are complete: derive the premaster secret and
	// run the TLS 1.2 key schedule.
	pms, err := e.jpake.DeriveSecret()
	if err != nil {
		return err
	}
	e.masterSecret, err = prf.MasterSecret(pms, e.clientRandom[:], e.serverRandom[:], sha256.New)
	if err != nil {
		return fmt.Errorf("master secret derivation failed: %w", err)
	}

	cipher, err := deriveKeys(e.masterSecret, e.clientRandom[:], e.serverRandom[:])
	if err != nil {
		return err
	}
	e.conn.installCipher(cipher)

	// The password has served its purpose.
	e.jpake.Zeroize()

	verifyData, err := prf.VerifyDataClient(e.masterSecret, e.transcript.Bytes(), sha256.New)
	if err != nil {
		return fmt.Errorf("verify_data derivation failed: %w", err)
	}

	finMsg := marshalHandshake(typeFinished, e.nextSendSeq, verifyData)
	e.nextSendSeq++
	e.transcript.Write(finMsg)

	e.flight = []flightRecord{
		{typ: contentHandshake, payload: ckeMsg},
		{typ: contentChangeCipherSpec, payload: []byte{1}},
		{typ: contentHandshake, payload: finMsg, encrypted: true},
	}
	return e.sendFlight()
}

// sendFlight (re)transmits the current flight.
func (e *handshakeEngine) sendFlight() error {
	for _, fr := range e.flight {
		if err := e.conn.writeHandshakeRecord(fr.typ, fr.payload, fr.encrypted); err != nil {
			return err
		}
	}
	e.conn.handshakeEvent(e.state.String(), e.iteration)
	return nil
}

// readAndProcess handles the next expected message, reading from the
// socket when nothing complete is pending. A read timeout retransmits the
// current flight with exponential backoff and yields errWantRead.
func (e *handshakeEngine) readAndProcess() error {
	if handled, err := e.processPending(); handled || err != nil {
		return err
	}

	rec, plaintext, err := e.conn.readRecord(e.retransmitTimeout)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			e.retransmitTimeout *= 2
			if max := e.conn.readTimeout(); e.retransmitTimeout > max {
				e.retransmitTimeout = max
			}
			if err := e.sendFlight(); err != nil {
				return err
			}
			return errWantRead
		}
		return err
	}

	switch rec.typ {
	case contentAlert:
		return e.handleAlert(plaintext)

	case contentChangeCipherSpec:
		if e.state != hsWaitChangeCipherSpec {
			// Stray or retransmitted CCS; ignore.
			return errWantRead
		}
		e.state = hsWaitFinished
		return nil

	case contentHandshake:
		e.feedFragments(plaintext)
		if handled, err := e.processPending(); handled || err != nil {
			return err
		}
		return errWantRead

	default:
		// Stray application data before the handshake finishes; drop.
		return errWantRead
	}
}

// handleAlert turns a fatal alert into an error; warnings are skipped.
func (e *handshakeEngine) handleAlert(payload []byte) error {
	if len(payload) < 2 {
		return errWantRead
	}
	if payload[0] != 2 {
		return errWantRead // warning level
	}
	return &AlertError{Level: payload[0], Description: payload[1]}
}

// feedFragments splits a handshake record into fragments and files them
// into the reassembly buffer. Retransmissions of already-consumed
// messages are dropped.
func (e *handshakeEngine) feedFragments(data []byte) {
	for len(data) > 0 {
		h, frag, err := parseHandshakeHeader(data)
		if err != nil {
			return
		}
		data = data[handshakeHeaderSize+h.fragLength:]

		if h.messageSeq < e.nextRecvSeq {
			continue
		}

		pm, ok := e.reassembly[h.messageSeq]
		if !ok {
			pm = &partialMessage{typ: h.typ, body: make([]byte, h.length)}
			e.reassembly[h.messageSeq] = pm
		}
		if h.fragOffset+h.fragLength <= len(pm.body) {
			copy(pm.body[h.fragOffset:], frag)
			pm.received += h.fragLength
		}
	}
}

// processPending consumes the next expected complete message, if any.
// Returns true when a message advanced the state machine.
func (e *handshakeEngine) processPending() (bool, error) {
	pm, ok := e.reassembly[e.nextRecvSeq]
	if !ok || pm.received < len(pm.body) {
		return false, nil
	}
	delete(e.reassembly, e.nextRecvSeq)

	seq := e.nextRecvSeq
	if err := e.handleMessage(pm.typ, pm.body, seq); err != nil {
		return true, err
	}
	return true, nil
}

// handleMessage dispatches one complete handshake message.
func (e *handshakeEngine) handleMessage(typ handshakeType, body []byte, seq uint16) error {
	switch typ {
	case typeHelloVerifyRequest:
		if e.state != hsWaitServerHello {
			return nil // retransmission
		}
		cookie, err := parseHelloVerifyRequest(body)
		if err != nil {
			return err
		}
		// Restart the hello exchange with the cookie. Neither the first
		// ClientHello nor the HelloVerifyRequest enters the transcript.
		e.cookie = cookie
		e.nextRecvSeq = seq + 1
		e.transcript.Reset()
		e.state = hsSendClientHello
		return nil

	case typeServerHello:
		if e.state != hsWaitServerHello {
			return nil
		}
		if err := e.processServerHello(body); err != nil {
			return err
		}
		e.appendTranscript(typ, seq, body)
		e.nextRecvSeq = seq + 1
		e.state = hsWaitServerKeyExchange
		return nil

	case typeServerKeyExchange:
		if e.state != hsWaitServerKeyExchange {
			return nil
		}
		if err := e.jpake.ReadRound2(body); err != nil {
			return err
		}
		e.appendTranscript(typ, seq, body)
		e.nextRecvSeq = seq + 1
		e.state = hsWaitServerHelloDone
		return nil

	case typeServerHelloDone:
		if e.state != hsWaitServerHelloDone {
			return nil
		}
		e.appendTranscript(typ, seq, body)
		e.nextRecvSeq = seq + 1
		e.state = hsSendSecondFlight
		return nil

	case typeFinished:
		if e.state != hsWaitFinished {
			return nil
		}
		expected, err := prf.VerifyDataServer(e.masterSecret, e.transcript.Bytes(), sha256.New)
		if err != nil {
			return fmt.Errorf("verify_data derivation failed: %w", err)
		}
		if len(body) != verifyDataLength || !bytes.Equal(body, expected) {
			return errBadFinished
		}
		e.nextRecvSeq = seq + 1
		e.state = hsDone
		return nil

	default:
		return fmt.Errorf("%w: type %d in state %s", errUnexpectedMessage, typ, e.state)
	}
}

// appendTranscript adds an incoming message to the Finished transcript in
// single-fragment form.
func (e *handshakeEngine) appendTranscript(typ handshakeType, seq uint16, body []byte) {
	e.transcript.Write(marshalHandshake(typ, seq, body))
}

// processServerHello validates the ServerHello and absorbs the server's
// EC-JPAKE round one from the kkpp extension.
func (e *handshakeEngine) processServerHello(body []byte) error {
	s := cryptobyte.String(body)

	var version uint16
	var random []byte
	var sessionID cryptobyte.String
	var suite uint16
	var compression uint8

	if !s.ReadUint16(&version) ||
		!s.ReadBytes(&random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&suite) ||
		!s.ReadUint8(&compression) {
		return errBadServerHello
	}

	if suite != cipherSuiteECJPAKE {
		return errWrongCipherSuite
	}
	copy(e.serverRandom[:], random)

	if s.Empty() {
		return errMissingKKPP
	}

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) {
		return errBadServerHello
	}

	for !extensions.Empty() {
		var extType uint16
		var extBody cryptobyte.String
		if !extensions.ReadUint16(&extType) ||
			!extensions.ReadUint16LengthPrefixed(&extBody) {
			return errBadServerHello
		}
		if extType == extECJPAKEKKPP {
			return e.jpake.ReadRound1(extBody)
		}
	}

	return errMissingKKPP
}

// parseHelloVerifyRequest extracts the cookie.
func parseHelloVerifyRequest(body []byte) ([]byte, error) {
	s := cryptobyte.String(body)

	var version uint16
	var cookie cryptobyte.String
	if !s.ReadUint16(&version) || !s.ReadUint8LengthPrefixed(&cookie) {
		return nil, fmt.Errorf("%w: malformed HelloVerifyRequest", errUnexpectedMessage)
	}

	out := make([]byte, len(cookie))
	copy(out, cookie)
	return out, nil
}
