// Package coap implements the subset of CoAP (RFC 7252) needed to carry
// Thread commissioning requests over a secure datagram session.
//
// The codec covers confirmable requests, piggybacked and separate
// responses, tokens, the delta-encoded option list and the payload
// marker. It deliberately omits block-wise transfer, observe, multicast
// and any congestion control beyond the underlying transport's
// retransmission: the commissioner keeps a single exchange in flight at
// a time.
//
// Decoding is total over arbitrary input: any datagram either decodes to
// a Message or fails with ErrInvalidMessage. Option numbers other than
// Uri-Path, Content-Format and Uri-Query are consumed but dropped from
// the decoded message.
package coap
