// Package room implements the isolated multi-client worlds the server
// partitions its state into.
//
// A Room owns a mesh table, an edit history, interface state (camera,
// cursors, in-flight tasks), and the set of connected WebSocket
// sessions. It is the system's serialization boundary: Dispatch holds
// the room's dispatch lock for the full duration of a handler call, so
// mutations of one room are linearizable while unrelated rooms run fully
// concurrently. Broadcast takes only the session-set lock and the two
// locks are never nested the other way around, so fanning out while the
// next dispatch queues up cannot deadlock.
//
// Rooms are created lazily on first contact and live until process
// shutdown; there is no eviction.
package room
