// Package plugin holds the process-wide API registry.
//
// Every API the server exposes — over HTTP POST or a WebSocket frame —
// resolves through one capability table from API name to a handler with
// the uniform (room, parameters) -> (response, broadcast) contract.
// Handlers are statically linked Go functions registered at startup
// (see the builtin subpackage); the plugin installation directory only
// contributes metadata and client-side modules.
package plugin
