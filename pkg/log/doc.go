// Package log provides structured protocol logging for the commissioner.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (secure transport, CoAP,
// commissioner). It is separate from operational logging (slog) - protocol
// capture provides a complete machine-readable event trace for debugging
// commissioning sessions against a Thread Border Router.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file with rotation
//	fileLogger := log.NewRotatingFileLogger("/var/log/meshcop/commissioner.clog", 10, 3)
//	cfg.Logger = fileLogger
//
//	// Both: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: DTLS records and handshake progress (RecordEvent, HandshakeEvent)
//   - CoAP: decoded messages (MessageEvent)
//   - Commissioner: state changes (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// The admin code is never captured: the transport emits record sizes and
// handshake step identifiers only, never handshake secrets.
//
// # File Format
//
// Log files use CBOR encoding with .clog extension. The events subcommand of
// meshcop-commissioner prints every event in a file; NewFilteredReader
// selects events programmatically.
package log
