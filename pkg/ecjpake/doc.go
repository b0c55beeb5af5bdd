// Package ecjpake implements the EC-JPAKE password-authenticated key
// exchange over NIST P-256 as used by Thread commissioning.
//
// # Overview
//
// EC-JPAKE yields a shared session key from a short shared password without
// transmitting or storing the password. Thread carries the exchange inside a
// DTLS 1.2 handshake: round one travels in a hello extension, round two in
// the key-exchange messages, and the derived secret becomes the TLS
// premaster secret.
//
// # Protocol
//
// Each side holds two ephemeral scalars. Round one publishes both public
// keys with Schnorr proofs of knowledge (RFC 8235). Round two publishes a
// combined point computed against a generator built from three of the four
// round-one keys, with a proof against that generator. Both sides then
// derive the same point K; the premaster secret is SHA-256 of K's
// x-coordinate.
//
// # Wire Format
//
// Points are uncompressed (0x04 || X || Y) prefixed with a one-byte length.
// Schnorr proofs are an ephemeral point plus a length-prefixed scalar. The
// server's round two is preceded by the TLS ECParameters for secp256r1.
// These layouts match the ecjpake_kkpp extension and key-exchange bodies of
// the ciphersuite TLS_ECJPAKE_WITH_AES_128_CCM_8.
//
// # Security Properties
//
//   - Mutual proof of password knowledge; no password-equivalent data on the wire
//   - Off-path attackers get one password guess per run at most
//   - Wrong password yields a different premaster secret, failing the
//     Finished verification rather than leaking a comparison oracle
package ecjpake
