// Package core assembles the process: it owns the configuration
// snapshot, the plugin registry, the lazily created room set, and the
// network server, and runs them until shutdown.
package core
