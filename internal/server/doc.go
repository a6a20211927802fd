// Package server implements the network front of the process: a raw TCP
// acceptor with protocol detection (TLS vs plaintext on the same port),
// a hand-rolled HTTP session for static assets, redirects, and API
// calls, and WebSocket promotion for live room membership.
package server
