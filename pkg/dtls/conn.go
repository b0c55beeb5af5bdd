package dtls

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thread-tools/meshcop-go/pkg/log"
)

// Session constants.
const (
	// DefaultReadTimeout is the per-record read timeout.
	DefaultReadTimeout = 10 * time.Second

	// DefaultReceiveMax is the default record receive limit in bytes.
	DefaultReceiveMax = 4096
)

// State represents the session state.
type State uint8

const (
	// StateIdle is a freshly created session.
	StateIdle State = iota

	// StateConnecting is set while the UDP endpoint is being prepared.
	StateConnecting

	// StateHandshaking is set while the DTLS handshake runs.
	StateHandshaking

	// StateEstablished permits Send and Receive.
	StateEstablished

	// StateClosed is set after Close or a failed connect. Connect may be
	// called again to start a fresh session.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config configures a Session.
type Config struct {
	// ReadTimeout is the per-record read timeout (default 10 s).
	ReadTimeout time.Duration

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger

	// LogLevel thresholds what the session emits.
	LogLevel log.Level
}

// Session is a DTLS client session to one border router. A Session is
// owned by a single commissioning task; it is not safe for concurrent
// Send/Receive from multiple goroutines.
type Session struct {
	mu  sync.Mutex
	cfg Config

	state     State
	sessionID string
	udp       *net.UDPConn
	remote    string

	cipher    *recordCipher
	sendEpoch uint16
	sendSeq   [2]uint64 // per-epoch record sequence counters

	// recvQueue holds records parsed from a datagram but not yet consumed.
	recvQueue []record
}

// NewSession creates a session in the Idle state.
func NewSession(cfg Config) *Session {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger{}
	}
	return &Session{cfg: cfg, state: StateIdle}
}

// SetLogLevel adjusts the event threshold. Safe to call at any time.
func (s *Session) SetLogLevel(level log.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.LogLevel = level
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the UUID assigned to the current connect attempt.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connect validates the admin code, opens a connected UDP socket to the
// border router and drives the EC-JPAKE DTLS handshake to completion.
func (s *Session) Connect(host string, port int, adminCode string) error {
	code, err := ParseAdminCode(adminCode)
	if err != nil {
		return err
	}
	defer code.Zeroize()

	s.mu.Lock()
	if s.state != StateIdle && s.state != StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrSessionInUse, s.state)
	}
	old := s.state
	s.resetLocked()
	s.state = StateConnecting
	s.sessionID = uuid.NewString()
	s.mu.Unlock()

	s.stateEvent(old.String(), StateConnecting.String(), "")

	if err := s.dial(host, port); err != nil {
		s.failConnect()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	engine, err := newHandshakeEngine(s, code.Bytes())
	if err != nil {
		s.failConnect()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s.setState(StateHandshaking, "")

	for i := 0; i < maxHandshakeIterations; i++ {
		done, err := engine.step()
		if done {
			s.setState(StateEstablished, "")
			return nil
		}
		if err == nil || errors.Is(err, errWantRead) || errors.Is(err, errWantWrite) {
			continue
		}

		s.errorEvent(err, "handshake")
		s.failConnect()

		hsErr := newHandshakeError(engine.state.String(), err)
		var alert *AlertError
		if errors.As(err, &alert) {
			hsErr.Code = int(alert.Description)
		}
		return hsErr
	}

	s.errorEvent(errHandshakeTimedOut, "handshake")
	s.failConnect()
	return newHandshakeError(engine.state.String(), errHandshakeTimedOut)
}

// dial opens the connected UDP socket. No bytes are sent; connecting only
// fixes the remote endpoint.
func (s *Session) dial(host string, port int) error {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.udp = udp
	s.remote = raddr.String()
	s.mu.Unlock()
	return nil
}

// Send writes payload as exactly one application-data record.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	if s.state != StateEstablished {
		s.mu.Unlock()
		return ErrNotEstablished
	}
	s.mu.Unlock()

	if err := s.writeRecord(contentApplicationData, payload, true); err != nil {
		s.errorEvent(err, "send")
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.recordEvent(log.DirectionOut, len(payload))
	return nil
}

// Receive returns the next decrypted application-data record, truncated
// to maxLen bytes. Pass DefaultReceiveMax unless the caller has a reason
// to bound reads tighter.
func (s *Session) Receive(maxLen int) ([]byte, error) {
	s.mu.Lock()
	if s.state != StateEstablished {
		s.mu.Unlock()
		return nil, ErrNotEstablished
	}
	timeout := s.cfg.ReadTimeout
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: read timeout", ErrReceiveFailed)
		}

		rec, plaintext, err := s.readRecord(remaining)
		if err != nil {
			s.errorEvent(err, "receive")
			if errors.Is(err, ErrReceiveFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
		}

		switch rec.typ {
		case contentApplicationData:
			if len(plaintext) > maxLen {
				plaintext = plaintext[:maxLen]
			}
			s.recordEvent(log.DirectionIn, len(plaintext))
			return plaintext, nil

		case contentAlert:
			if len(plaintext) >= 2 && plaintext[0] == 2 {
				alert := &AlertError{Level: plaintext[0], Description: plaintext[1]}
				s.errorEvent(alert, "receive")
				return nil, fmt.Errorf("%w: %v", ErrReceiveFailed, alert)
			}
			// Warning alert; keep reading.

		default:
			// Handshake retransmissions after establishment; drop.
		}
	}
}

// Close tears the session down. It is idempotent and safe from any state.
// No close_notify is sent: the engine this transport is modeled on is not
// safe to use for close_notify after certain error paths, so the peer is
// left to time the session out.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}

	old := s.state
	if s.udp != nil {
		_ = s.udp.Close()
		s.udp = nil
	}
	s.resetLocked()
	s.state = StateClosed
	s.mu.Unlock()

	s.stateEvent(old.String(), StateClosed.String(), "")
	return nil
}

// --- record layer ---

// writeRecord marshals, optionally encrypts, and transmits one record.
func (s *Session) writeRecord(typ contentType, payload []byte, encrypted bool) error {
	s.mu.Lock()
	udp := s.udp
	cipher := s.cipher
	epoch := s.sendEpoch
	if !encrypted {
		epoch = 0
	}
	seq := s.sendSeq[epoch]
	s.sendSeq[epoch]++
	s.mu.Unlock()

	if udp == nil {
		return net.ErrClosed
	}

	body := payload
	if encrypted {
		if cipher == nil {
			return fmt.Errorf("cipher not ready for encrypted record")
		}
		body = cipher.encrypt(typ, epoch, seq, payload)
	}

	wire := marshalRecord(typ, epoch, seq, body)
	n, err := udp.Write(wire)
	if err != nil {
		return err
	}
	if n != len(wire) {
		return fmt.Errorf("partial record write: %d of %d bytes", n, len(wire))
	}
	return nil
}

// writeHandshakeRecord is the engine's transmit hook. ChangeCipherSpec
// advances the outgoing epoch after it is sent.
func (s *Session) writeHandshakeRecord(typ contentType, payload []byte, encrypted bool) error {
	if err := s.writeRecord(typ, payload, encrypted); err != nil {
		return err
	}
	if typ == contentChangeCipherSpec {
		s.mu.Lock()
		s.sendEpoch = 1
		s.mu.Unlock()
	}
	return nil
}

// installCipher arms record protection for epoch 1 in both directions.
func (s *Session) installCipher(c *recordCipher) {
	s.mu.Lock()
	s.cipher = c
	s.mu.Unlock()
}

// readRecord returns the next record, decrypting epoch-1 records.
// Malformed datagrams are dropped silently, per DTLS; the timeout bounds
// the total wait.
func (s *Session) readRecord(timeout time.Duration) (record, []byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		s.mu.Lock()
		var rec record
		havePending := len(s.recvQueue) > 0
		if havePending {
			rec = s.recvQueue[0]
			s.recvQueue = s.recvQueue[1:]
		}
		udp := s.udp
		cipher := s.cipher
		s.mu.Unlock()

		if havePending {
			return s.openRecord(rec, cipher)
		}

		if udp == nil {
			return record{}, nil, net.ErrClosed
		}
		if err := udp.SetReadDeadline(deadline); err != nil {
			return record{}, nil, err
		}

		buf := make([]byte, maxDatagramSize)
		n, err := udp.Read(buf)
		if err != nil {
			return record{}, nil, err
		}

		records, err := parseRecords(buf[:n])
		if err != nil {
			continue // malformed datagram; drop
		}

		s.mu.Lock()
		s.recvQueue = append(s.recvQueue, records...)
		s.mu.Unlock()
	}
}

// openRecord decrypts rec when it is protected.
func (s *Session) openRecord(rec record, cipher *recordCipher) (record, []byte, error) {
	if rec.epoch == 0 || cipher == nil {
		return rec, rec.payload, nil
	}
	plaintext, err := cipher.decrypt(rec)
	if err != nil {
		return record{}, nil, err
	}
	return rec, plaintext, nil
}

// readTimeout exposes the configured per-record timeout to the engine.
func (s *Session) readTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ReadTimeout
}

// --- state helpers ---

// resetLocked clears per-connection state; callers hold s.mu.
func (s *Session) resetLocked() {
	s.cipher = nil
	s.sendEpoch = 0
	s.sendSeq = [2]uint64{}
	s.recvQueue = nil
}

// setState transitions the session state and emits a state event.
func (s *Session) setState(next State, reason string) {
	s.mu.Lock()
	old := s.state
	s.state = next
	s.mu.Unlock()
	s.stateEvent(old.String(), next.String(), reason)
}

// failConnect releases a partially set up connection.
func (s *Session) failConnect() {
	s.mu.Lock()
	if s.udp != nil {
		_ = s.udp.Close()
		s.udp = nil
	}
	s.resetLocked()
	s.state = StateClosed
	s.mu.Unlock()
}

// --- event helpers ---

func (s *Session) event(category log.Category, build func(*log.Event)) {
	s.mu.Lock()
	level := s.cfg.LogLevel
	logger := s.cfg.Logger
	id := s.sessionID
	remote := s.remote
	s.mu.Unlock()

	if !level.Allows(category) {
		return
	}

	e := log.Event{
		Timestamp:  time.Now(),
		SessionID:  id,
		Layer:      log.LayerTransport,
		Category:   category,
		RemoteAddr: remote,
	}
	build(&e)
	logger.Log(e)
}

func (s *Session) recordEvent(dir log.Direction, size int) {
	s.event(log.CategoryMessage, func(e *log.Event) {
		e.Direction = dir
		e.Record = &log.RecordEvent{Size: size, Epoch: 1}
	})
}

func (s *Session) handshakeEvent(step string, iteration int) {
	s.event(log.CategoryHandshake, func(e *log.Event) {
		e.Direction = log.DirectionOut
		e.Handshake = &log.HandshakeEvent{Step: step, Iteration: iteration}
	})
}

func (s *Session) stateEvent(old, next, reason string) {
	s.event(log.CategoryState, func(e *log.Event) {
		e.StateChange = &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old,
			NewState: next,
			Reason:   reason,
		}
	})
}

func (s *Session) errorEvent(err error, context string) {
	s.event(log.CategoryError, func(e *log.Event) {
		e.Error = &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		}
	})
}
