// Package config loads and watches the server configuration.
//
// Configuration is modeled as immutable snapshots: Load merges the
// on-disk file (JSON, or YAML by extension) over built-in defaults with
// an RFC 7386 merge patch and returns a value; nothing in the process
// mutates a snapshot after that. Watch re-runs Load whenever the file
// changes and delivers the fresh snapshot to a callback, which is how
// "active: false" and "forceReload: true" reach a running core.
package config
