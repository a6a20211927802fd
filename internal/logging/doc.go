// Package logging provides structured logging for the polyroom server.
//
// The package wraps zap with a small set of global helpers, mirroring the
// usual Initialize-once-then-log flow of a CLI process, and adds Scope: an
// append-only sink bound to one directory. The process owns one scope and
// every room owns one, so a room's log.txt only ever contains events for
// that room.
//
// Scopes filter on two axes:
//   - level set: system, apicall, wscall, error, debug
//   - kind set: "text" (log.txt lines) and "file" (files adopted into
//     the scope directory via MoveFile)
//
// An event outside either configured set is dropped silently.
package logging
