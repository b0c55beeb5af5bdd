package commissioner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thread-tools/meshcop-go/pkg/coap"
	"github.com/thread-tools/meshcop-go/pkg/discovery"
)

var testHub = discovery.ThreadHub{Host: "192.168.4.1", Port: 49191, InstanceName: "BR"}

// datasetPayload is a minimal MGMT_ACTIVE_GET response body.
var datasetPayload = []byte{
	0x00, 0x03, 0x00, 0x00, 0x0F, // channel 15
	0x01, 0x02, 0xAB, 0xCD, // pan id
	0x03, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F, // "Hello"
}

// fakeTransport scripts a border router behind the Transport interface.
type fakeTransport struct {
	connectErr error
	connected  bool
	closed     bool

	// requests records every decoded request sent through the transport.
	requests []*coap.Message

	// respond computes the response datagrams for a request.
	respond func(req *coap.Message) [][]byte

	queue [][]byte
}

func (f *fakeTransport) Connect(host string, port int, adminCode string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(payload []byte) error {
	req, err := coap.Decode(payload)
	if err != nil {
		return err
	}
	f.requests = append(f.requests, req)
	if f.respond != nil {
		f.queue = append(f.queue, f.respond(req)...)
	}
	return nil
}

func (f *fakeTransport) Receive(maxLen int) ([]byte, error) {
	if len(f.queue) == 0 {
		return nil, errors.New("read timeout")
	}
	data := f.queue[0]
	f.queue = f.queue[1:]
	return data, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// ack builds a piggybacked response to req.
func ack(req *coap.Message, code coap.Code, payload []byte) []byte {
	resp := &coap.Message{
		Type:      coap.TypeAcknowledgement,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
		Payload:   payload,
	}
	data, err := resp.Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// emptyAck builds the 4-byte empty acknowledgement for req.
func emptyAck(req *coap.Message) []byte {
	return []byte{0x60, 0x00, byte(req.MessageID >> 8), byte(req.MessageID)}
}

// con builds a standalone confirmable response carrying req's token.
func con(req *coap.Message, code coap.Code, payload []byte) []byte {
	resp := &coap.Message{
		Type:      coap.TypeConfirmable,
		Code:      code,
		MessageID: req.MessageID + 100,
		Token:     req.Token,
		Payload:   payload,
	}
	data, err := resp.Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// happyRouter answers the petition with Changed and the dataset request
// with Content.
func happyRouter(req *coap.Message) [][]byte {
	path := req.UriPath()
	if len(path) == 2 && path[1] == "cp" {
		return [][]byte{ack(req, coap.CodeChanged, nil)}
	}
	return [][]byte{ack(req, coap.CodeContent, datasetPayload)}
}

func newTestCommissioner(respond func(*coap.Message) [][]byte) (*Commissioner, *fakeTransport) {
	transport := &fakeTransport{respond: respond}
	return New(Config{Transport: transport}), transport
}

func TestFullFlow(t *testing.T) {
	c, transport := newTestCommissioner(happyRouter)

	require.NoError(t, c.Connect(testHub, "123456"))
	assert.Equal(t, StateConnected, c.State())

	ds, err := c.GetActiveDataset()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())

	require.NotNil(t, ds.NetworkName)
	assert.Equal(t, "Hello", *ds.NetworkName)
	require.NotNil(t, ds.PANID)
	assert.Equal(t, uint16(0xABCD), *ds.PANID)

	// Petition then dataset request: two requests, distinct message IDs
	// and distinct tokens.
	require.Len(t, transport.requests, 2)
	assert.Equal(t, []string{"c", "cp"}, transport.requests[0].UriPath())
	assert.Equal(t, []string{"c", "ag"}, transport.requests[1].UriPath())
	assert.NotEqual(t, transport.requests[0].MessageID, transport.requests[1].MessageID)
	assert.NotEqual(t, transport.requests[0].Token, transport.requests[1].Token)
}

func TestMessageIDStartsAtOne(t *testing.T) {
	c, transport := newTestCommissioner(happyRouter)

	require.NoError(t, c.Connect(testHub, "123456"))
	require.NoError(t, c.Petition())

	require.Len(t, transport.requests, 1)
	assert.Equal(t, uint16(1), transport.requests[0].MessageID)
}

func TestSeparateResponse(t *testing.T) {
	// S3: empty ACK first, then the actual response in a second datagram
	c, transport := newTestCommissioner(func(req *coap.Message) [][]byte {
		path := req.UriPath()
		if len(path) == 2 && path[1] == "cp" {
			return [][]byte{emptyAck(req), con(req, coap.CodeChanged, nil)}
		}
		return [][]byte{emptyAck(req), con(req, coap.CodeContent, datasetPayload)}
	})

	require.NoError(t, c.Connect(testHub, "123456"))

	ds, err := c.GetActiveDataset()
	require.NoError(t, err)
	require.NotNil(t, ds.Channel)
	assert.Equal(t, uint16(15), ds.Channel.ID)
	assert.Empty(t, transport.queue, "both datagrams must be consumed")
}

func TestPetitionRejected(t *testing.T) {
	c, _ := newTestCommissioner(func(req *coap.Message) [][]byte {
		return [][]byte{ack(req, coap.CodeCreated, nil)}
	})

	require.NoError(t, c.Connect(testHub, "123456"))

	err := c.Petition()
	assert.ErrorIs(t, err, ErrPetitionFailed)
	assert.Equal(t, StateFaulted, c.State())

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, coap.CodeCreated, respErr.Code)

	// From Faulted only Close is valid
	_, err = c.RequestDataset()
	assert.ErrorIs(t, err, ErrFaulted)
	assert.NoError(t, c.Close())
}

func TestDatasetRequestRejected(t *testing.T) {
	c, _ := newTestCommissioner(func(req *coap.Message) [][]byte {
		path := req.UriPath()
		if len(path) == 2 && path[1] == "cp" {
			return [][]byte{ack(req, coap.CodeChanged, nil)}
		}
		return [][]byte{ack(req, coap.CodeCreated, nil)}
	})

	require.NoError(t, c.Connect(testHub, "123456"))

	_, err := c.GetActiveDataset()
	assert.ErrorIs(t, err, ErrDatasetRequestFailed)
	assert.Equal(t, StateFaulted, c.State())
}

func TestDatasetEmptyPayloadFails(t *testing.T) {
	c, _ := newTestCommissioner(func(req *coap.Message) [][]byte {
		path := req.UriPath()
		if len(path) == 2 && path[1] == "cp" {
			return [][]byte{ack(req, coap.CodeChanged, nil)}
		}
		return [][]byte{ack(req, coap.CodeChanged, nil)} // success code, no payload
	})

	require.NoError(t, c.Connect(testHub, "123456"))

	_, err := c.GetActiveDataset()
	assert.ErrorIs(t, err, ErrDatasetRequestFailed)

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.True(t, respErr.EmptyPayload)
}

func TestDatasetAcceptsChanged(t *testing.T) {
	c, _ := newTestCommissioner(func(req *coap.Message) [][]byte {
		path := req.UriPath()
		if len(path) == 2 && path[1] == "cp" {
			return [][]byte{ack(req, coap.CodeChanged, nil)}
		}
		return [][]byte{ack(req, coap.CodeChanged, datasetPayload)}
	})

	require.NoError(t, c.Connect(testHub, "123456"))

	ds, err := c.GetActiveDataset()
	require.NoError(t, err)
	assert.NotNil(t, ds.NetworkName)
}

func TestStaleTokenSkipped(t *testing.T) {
	c, _ := newTestCommissioner(func(req *coap.Message) [][]byte {
		// A stale response with a foreign token arrives first
		stale := &coap.Message{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodeChanged,
			MessageID: 9999,
			Token:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
		}
		staleData, err := stale.Encode()
		if err != nil {
			panic(err)
		}
		path := req.UriPath()
		if len(path) == 2 && path[1] == "cp" {
			return [][]byte{staleData, ack(req, coap.CodeChanged, nil)}
		}
		return [][]byte{ack(req, coap.CodeContent, datasetPayload)}
	})

	require.NoError(t, c.Connect(testHub, "123456"))
	require.NoError(t, c.Petition())
	assert.Equal(t, StateCommissionerActive, c.State())
}

func TestConnectFailureFaults(t *testing.T) {
	transport := &fakeTransport{connectErr: errors.New("handshake failed")}
	c := New(Config{Transport: transport})

	err := c.Connect(testHub, "123456")
	assert.Error(t, err)
	assert.Equal(t, StateFaulted, c.State())
}

func TestConnectRejectsInvalidHub(t *testing.T) {
	c, _ := newTestCommissioner(nil)

	err := c.Connect(discovery.ThreadHub{}, "123456")
	assert.ErrorIs(t, err, ErrInvalidHub)
}

func TestPetitionRequiresConnection(t *testing.T) {
	c, _ := newTestCommissioner(nil)

	assert.ErrorIs(t, c.Petition(), ErrNotConnected)

	_, err := c.RequestDataset()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseFromAnyState(t *testing.T) {
	c, transport := newTestCommissioner(happyRouter)

	require.NoError(t, c.Close())
	assert.True(t, transport.closed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestPetitionPayloadIsCommissionerID(t *testing.T) {
	c, transport := newTestCommissioner(happyRouter)

	require.NoError(t, c.Connect(testHub, "123456"))
	require.NoError(t, c.Petition())

	want := append([]byte{0x01, 0x0F}, []byte("iOSCommissioner")...)
	assert.Equal(t, want, transport.requests[0].Payload)
}

func TestDatasetRequestPayloadIsGetTLV(t *testing.T) {
	c, transport := newTestCommissioner(happyRouter)

	require.NoError(t, c.Connect(testHub, "123456"))
	_, err := c.GetActiveDataset()
	require.NoError(t, err)

	want := []byte{0x0D, 0x06, 0x00, 0x01, 0x02, 0x03, 0x05, 0x0E}
	assert.Equal(t, want, transport.requests[1].Payload)
}

func TestExchangeExhaustion(t *testing.T) {
	c, _ := newTestCommissioner(func(req *coap.Message) [][]byte {
		// Flood with foreign-token responses
		stale := &coap.Message{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodeChanged,
			MessageID: 1,
			Token:     []byte{1, 2, 3, 5},
		}
		data, err := stale.Encode()
		if err != nil {
			panic(err)
		}
		var out [][]byte
		for i := 0; i < 32; i++ {
			out = append(out, data)
		}
		return out
	})

	require.NoError(t, c.Connect(testHub, "123456"))

	err := c.Petition()
	assert.ErrorIs(t, err, ErrExchangeExhausted)
	assert.Equal(t, StateFaulted, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", StateDisconnected.String())
	assert.Equal(t, "CommissionerActive", StateCommissionerActive.String())
	assert.Equal(t, "Faulted", StateFaulted.String())
	assert.Equal(t, "Unknown", State(42).String())
}
