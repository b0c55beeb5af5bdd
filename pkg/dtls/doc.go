// Package dtls implements the secure datagram transport used to talk to a
// Thread Border Router during commercial commissioning.
//
// # Overview
//
// The transport is a DTLS 1.2 client restricted to the single ciphersuite
// TLS_ECJPAKE_WITH_AES_128_CCM_8. There is no certificate chain: mutual
// authentication comes entirely from the EC-JPAKE password-authenticated key
// exchange, keyed with the 6-12 digit admin code the border router displays
// to the user. Offering only the EC-JPAKE suite makes a misconfigured peer
// fail the handshake instead of downgrading to a certificate flow.
//
// # Session Lifecycle
//
//	Idle -> Connecting -> Handshaking -> Established -> Closed
//
// Only Established permits Send and Receive. Close is idempotent and
// reinitializes the session so Connect may be called again. No close_notify
// is sent on Close; the peer is expected to time out the session.
//
// # Handshake
//
// Connect drives the handshake engine in a bounded loop: each iteration
// performs one step, want-read/want-write outcomes continue the loop, and
// the loop is capped at 100 iterations so a silent peer surfaces a timeout
// instead of a stall. Record retransmission follows the DTLS timer with
// exponential backoff.
package dtls
