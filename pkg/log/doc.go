// Package log provides protocol capture for the VISS server and client.
//
// Protocol capture is separate from operational logging (slog): it records
// a machine-readable trace of every frame, decoded message, session and
// subscription state change, and error, for debugging and analysis.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/viss/server.vlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # File Format
//
// Capture files are CBOR sequences of Event values with integer keys and
// the .vlog extension. The viss-log tool views and filters them.
package log
