package commissioner

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/thread-tools/meshcop-go/pkg/coap"
	"github.com/thread-tools/meshcop-go/pkg/discovery"
	"github.com/thread-tools/meshcop-go/pkg/dtls"
	"github.com/thread-tools/meshcop-go/pkg/log"
	"github.com/thread-tools/meshcop-go/pkg/meshcop"
)

// Commissioning constants.
const (
	// DefaultCommissionerID is the Commissioner ID TLV value sent in the
	// petition. Any non-empty UTF-8 string satisfies the border router.
	DefaultCommissionerID = "iOSCommissioner"

	// tokenLength is the CoAP token size drawn per exchange.
	tokenLength = 4

	// maxStrayDatagrams bounds how many non-matching datagrams one
	// exchange will skip before giving up.
	maxStrayDatagrams = 16
)

// URI paths of the management endpoints.
var (
	petitionPath = []string{"c", "cp"}
	datasetPath  = []string{"c", "ag"}
)

// Transport is the secure datagram session the commissioner drives.
// *dtls.Session implements it.
type Transport interface {
	Connect(host string, port int, adminCode string) error
	Send(payload []byte) error
	Receive(maxLen int) ([]byte, error)
	Close() error
}

// State represents the commissioner state.
type State uint8

const (
	// StateDisconnected is the initial state.
	StateDisconnected State = iota

	// StateConnected means the secure session is established.
	StateConnected

	// StateCommissionerPending means the petition is in flight.
	StateCommissionerPending

	// StateCommissionerActive means the border router accepted the
	// petition.
	StateCommissionerActive

	// StateDatasetRequested means the MGMT_ACTIVE_GET is in flight.
	StateDatasetRequested

	// StateIdle means the dataset was retrieved; the session has served
	// its purpose.
	StateIdle

	// StateFaulted means an error aborted the attempt; only Close is
	// valid.
	StateFaulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnected:
		return "Connected"
	case StateCommissionerPending:
		return "CommissionerPending"
	case StateCommissionerActive:
		return "CommissionerActive"
	case StateDatasetRequested:
		return "DatasetRequested"
	case StateIdle:
		return "Idle"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Config configures a Commissioner.
type Config struct {
	// Transport is the secure session. Nil creates a dtls.Session with
	// default settings.
	Transport Transport

	// CommissionerID is the petition's Commissioner ID TLV value.
	// Defaults to DefaultCommissionerID.
	CommissionerID string

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger

	// ReceiveMax bounds a received record (default dtls.DefaultReceiveMax).
	ReceiveMax int
}

// Commissioner drives one commissioning attempt. It is owned by a single
// task; methods must not be called concurrently.
type Commissioner struct {
	cfg       Config
	transport Transport
	state     State

	// messageID increments before each request, so the first request
	// within a session uses 1.
	messageID uint16
}

// New creates a commissioner in the Disconnected state.
func New(cfg Config) *Commissioner {
	if cfg.CommissionerID == "" {
		cfg.CommissionerID = DefaultCommissionerID
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger{}
	}
	if cfg.ReceiveMax == 0 {
		cfg.ReceiveMax = dtls.DefaultReceiveMax
	}

	transport := cfg.Transport
	if transport == nil {
		transport = dtls.NewSession(dtls.Config{Logger: cfg.Logger})
	}

	return &Commissioner{
		cfg:       cfg,
		transport: transport,
		state:     StateDisconnected,
	}
}

// State returns the current state.
func (c *Commissioner) State() State {
	return c.state
}

// Connect establishes the secure session to the hub.
func (c *Commissioner) Connect(hub discovery.ThreadHub, adminCode string) error {
	if c.state != StateDisconnected {
		return fmt.Errorf("connect from state %s: %w", c.state, ErrFaulted)
	}
	if !hub.Valid() {
		return ErrInvalidHub
	}

	if err := c.transport.Connect(hub.Host, hub.Port, adminCode); err != nil {
		c.fault(err)
		return err
	}

	c.setState(StateConnected, "session established")
	return nil
}

// Petition asks the border router to accept this client as the active
// commissioner: POST /c/cp with the Commissioner ID TLV. Only the
// Changed (2.04) response elevates.
func (c *Commissioner) Petition() error {
	if c.state != StateConnected {
		if c.state == StateFaulted {
			return ErrFaulted
		}
		return ErrNotConnected
	}

	payload, err := meshcop.EncodeCommissionerID(c.cfg.CommissionerID)
	if err != nil {
		c.fault(err)
		return err
	}

	c.setState(StateCommissionerPending, "")

	resp, err := c.exchange(petitionPath, payload)
	if err != nil {
		c.fault(err)
		return err
	}

	if resp.Code != coap.CodeChanged {
		err := &ResponseError{Op: "petition", Code: resp.Code}
		c.fault(err)
		return err
	}

	c.setState(StateCommissionerActive, "petition accepted")
	return nil
}

// RequestDataset performs MGMT_ACTIVE_GET: POST /c/ag with the Get TLV
// naming the credential fields. Border router dialects answer with
// either Changed (2.04) or Content (2.05); both carry the dataset.
func (c *Commissioner) RequestDataset() (*meshcop.Dataset, error) {
	if c.state != StateCommissionerActive {
		if c.state == StateFaulted {
			return nil, ErrFaulted
		}
		return nil, ErrNotConnected
	}

	payload, err := meshcop.EncodeGetRequest()
	if err != nil {
		c.fault(err)
		return nil, err
	}

	c.setState(StateDatasetRequested, "")

	resp, err := c.exchange(datasetPath, payload)
	if err != nil {
		c.fault(err)
		return nil, err
	}

	if resp.Code != coap.CodeChanged && resp.Code != coap.CodeContent {
		err := &ResponseError{Op: "dataset", Code: resp.Code}
		c.fault(err)
		return nil, err
	}
	if len(resp.Payload) == 0 {
		err := &ResponseError{Op: "dataset", Code: resp.Code, EmptyPayload: true}
		c.fault(err)
		return nil, err
	}

	c.setState(StateIdle, "dataset retrieved")
	return meshcop.ParseDataset(resp.Payload), nil
}

// GetActiveDataset runs the petition (when not yet active) followed by
// the dataset request.
func (c *Commissioner) GetActiveDataset() (*meshcop.Dataset, error) {
	if c.state == StateConnected {
		if err := c.Petition(); err != nil {
			return nil, err
		}
	}
	return c.RequestDataset()
}

// Close tears down the secure session. Safe to call from any state,
// including Faulted.
func (c *Commissioner) Close() error {
	err := c.transport.Close()
	c.setState(StateDisconnected, "closed")
	return err
}

// exchange sends one confirmable POST and waits for its response. A
// piggybacked response returns directly; an empty ACK switches the wait
// into separate-response mode, where the next matching datagram carries
// the actual response. Used by both the petition and the dataset request.
func (c *Commissioner) exchange(path []string, payload []byte) (*coap.Message, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	c.messageID++
	req := coap.NewRequest(coap.CodePOST, c.messageID, token)
	req.AddUriPath(path...)
	req.Payload = payload

	data, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(data); err != nil {
		return nil, err
	}
	c.messageEvent(log.DirectionOut, req)

	for stray := 0; stray < maxStrayDatagrams; stray++ {
		data, err := c.transport.Receive(c.cfg.ReceiveMax)
		if err != nil {
			return nil, err
		}

		resp, err := coap.Decode(data)
		if err != nil {
			return nil, err
		}
		c.messageEvent(log.DirectionIn, resp)

		if resp.IsEmptyAck() && resp.MessageID == req.MessageID {
			// Receipt acknowledged; the actual response follows in a
			// second datagram. Retransmitted empty ACKs are absorbed here
			// as well.
			continue
		}

		// A response is ours when the token matches or it carries no
		// token. Stale retransmissions from a prior exchange carry the
		// old token and are skipped.
		if len(resp.Token) > 0 && !bytes.Equal(resp.Token, token) {
			continue
		}

		return resp, nil
	}

	return nil, ErrExchangeExhausted
}

// newToken draws a fresh random exchange token.
func newToken() ([]byte, error) {
	token := make([]byte, tokenLength)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("failed to draw token: %w", err)
	}
	return token, nil
}

// fault records an error transition.
func (c *Commissioner) fault(err error) {
	old := c.state
	c.state = StateFaulted
	c.cfg.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerCommissioner,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerCommissioner,
			Message: err.Error(),
			Context: old.String(),
		},
	})
	c.stateEvent(old, StateFaulted, err.Error())
}

// setState transitions and logs.
func (c *Commissioner) setState(next State, reason string) {
	old := c.state
	c.state = next
	c.stateEvent(old, next, reason)
}

func (c *Commissioner) stateEvent(old, next State, reason string) {
	c.cfg.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerCommissioner,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityCommissioner,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (c *Commissioner) messageEvent(dir log.Direction, msg *coap.Message) {
	event := &log.MessageEvent{
		MessageID:   msg.MessageID,
		Type:        msg.Type.String(),
		Code:        msg.Code.String(),
		PayloadSize: len(msg.Payload),
	}
	if dir == log.DirectionOut {
		if path := msg.UriPath(); len(path) > 0 {
			event.Path = path[0]
			for _, seg := range path[1:] {
				event.Path += "/" + seg
			}
		}
	}

	c.cfg.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerCoAP,
		Category:  log.CategoryMessage,
		Message:   event,
	})
}
