package commissioner

import (
	"errors"
	"fmt"

	"github.com/thread-tools/meshcop-go/pkg/coap"
)

// Commissioner errors.
var (
	// ErrNotConnected indicates an operation that needs an established
	// session.
	ErrNotConnected = errors.New("not connected to a border router")

	// ErrFaulted indicates the commissioner hit an error earlier; only
	// Close is valid.
	ErrFaulted = errors.New("commissioner is faulted")

	// ErrInvalidHub indicates a hub without a usable endpoint.
	ErrInvalidHub = errors.New("invalid border router endpoint")

	// ErrPetitionFailed indicates the border router rejected the
	// petition.
	ErrPetitionFailed = errors.New("petition failed")

	// ErrDatasetRequestFailed indicates the MGMT_ACTIVE_GET did not
	// produce a dataset.
	ErrDatasetRequestFailed = errors.New("dataset request failed")

	// ErrExchangeExhausted indicates too many unrelated datagrams
	// arrived while waiting for a response.
	ErrExchangeExhausted = errors.New("exchange gave up waiting for a matching response")
)

// ResponseError reports an unexpected CoAP response code.
type ResponseError struct {
	// Op is the failing operation ("petition" or "dataset").
	Op string

	// Code is the response code received.
	Code coap.Code

	// EmptyPayload is set when a success code arrived without the
	// required payload.
	EmptyPayload bool
}

// Error returns the error message.
func (e *ResponseError) Error() string {
	if e.EmptyPayload {
		return fmt.Sprintf("%s returned %s with an empty payload", e.Op, e.Code)
	}
	return fmt.Sprintf("%s rejected with code %s", e.Op, e.Code)
}

// Is matches the operation's sentinel.
func (e *ResponseError) Is(target error) bool {
	switch e.Op {
	case "petition":
		return target == ErrPetitionFailed
	case "dataset":
		return target == ErrDatasetRequestFailed
	default:
		return false
	}
}
