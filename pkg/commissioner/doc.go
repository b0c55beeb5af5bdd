// Package commissioner sequences a Thread 1.4 commercial commissioning
// attempt: connect to a discovered border router, petition to become the
// active commissioner, and request the Active Operational Dataset.
//
// # State Machine
//
//	Disconnected -> Connected -> CommissionerPending -> CommissionerActive
//	             -> DatasetRequested -> Idle
//
// A transport failure, a failed exchange or a rejected response moves the
// commissioner to Faulted; from Faulted only Close is valid. The caller
// constructs a fresh commissioner to retry. A call made in the wrong state,
// or Connect with a hub that has no usable endpoint, returns an error and
// leaves the state unchanged.
//
// # Exchanges
//
// Both the petition (POST /c/cp) and the dataset request (POST /c/ag)
// run through a single exchange primitive that owns the separate-response
// pattern: a response with the empty code acknowledges receipt, and the
// primitive waits for the follow-up datagram that carries the actual
// response. Each exchange draws a fresh random token so a stale
// retransmission from the previous exchange cannot be misattributed, and
// the session message ID counter increments before every request.
package commissioner
