package room

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/mesh"
)

// Session is the room-side view of a connected WebSocket session. The
// transport owns the socket; the room only keeps the handle for
// broadcast delivery. Send must not block: it reports false when the
// session can no longer accept messages.
type Session interface {
	UUID() string
	Send(msg []byte) bool
}

// Handler is the uniform call contract every API implements: it may read
// and mutate room state (the dispatch lock is held for the duration) and
// yields a response for the caller plus an optional broadcast payload.
type Handler func(r *Room, params json.RawMessage) (response, broadcast json.RawMessage, err error)

// APITable resolves API names to handlers. The process-wide plugin
// registry implements it.
type APITable interface {
	Lookup(name string) (Handler, bool)
}

// Options configures a new room.
type Options struct {
	DataDir    string
	Log        *logging.Scope
	APIs       APITable
	OnShutdown func()
}

// Room is an isolated multi-client world: a mesh table, connected
// sessions, interface state, and an edit history. It is also a
// serialization boundary; all API dispatch against a room is linearized
// by its dispatch lock.
type Room struct {
	uuid string
	opts Options

	// dispatchMu guards the mesh table, the edit history, and the
	// at-most-one-dispatch invariant. It is never held while sessMu is
	// wanted by another path; broadcast only takes sessMu.
	dispatchMu sync.Mutex
	meshes     *mesh.Table
	history    *EditHistory

	ifaceMu sync.Mutex
	camera  Camera
	cursors map[string]Cursor
	tasks   map[string]struct{}

	sessMu   sync.Mutex
	sessions map[string]Session
}

// New creates a room.
func New(roomUUID string, opts Options) *Room {
	r := &Room{
		uuid:     roomUUID,
		opts:     opts,
		meshes:   mesh.NewTable(),
		history:  newEditHistory(),
		camera:   DefaultCamera(),
		cursors:  make(map[string]Cursor),
		tasks:    make(map[string]struct{}),
		sessions: make(map[string]Session),
	}
	if r.opts.Log != nil {
		r.opts.Log.Logf(logging.LevelSystem, "New room %q is created.", roomUUID)
	}
	return r
}

// UUID returns the room id.
func (r *Room) UUID() string {
	return r.uuid
}

// DataDir returns the room's writable directory.
func (r *Room) DataDir() string {
	return r.opts.DataDir
}

// OutputDir returns the directory handlers write produced artifacts to.
func (r *Room) OutputDir() string {
	return filepath.Join(r.opts.DataDir, "output")
}

// Log returns the room's log scope. It may be nil in tests.
func (r *Room) Log() *logging.Scope {
	return r.opts.Log
}

// Meshes exposes the mesh table to handlers. Callers must be running
// under the dispatch lock, which is the case for every Handler.
func (r *Room) Meshes() *mesh.Table {
	return r.meshes
}

// RequestShutdown asks the owning core to stop the process. The call
// returns immediately so the in-flight response can still be delivered.
func (r *Room) RequestShutdown() {
	if r.opts.OnShutdown != nil {
		go r.opts.OnShutdown()
	}
}

// JoinWS registers a session for broadcast delivery.
func (r *Room) JoinWS(s Session) {
	r.sessMu.Lock()
	r.sessions[s.UUID()] = s
	r.sessMu.Unlock()
	if r.opts.Log != nil {
		r.opts.Log.Logf(logging.LevelSystem, "New WS session %q is created.", s.UUID())
	}
}

// LeaveWS removes a session. It is idempotent; concurrent failure paths
// may race on removal and only the first call observes the session.
func (r *Room) LeaveWS(sessionUUID string) {
	r.sessMu.Lock()
	_, present := r.sessions[sessionUUID]
	delete(r.sessions, sessionUUID)
	r.sessMu.Unlock()
	if present && r.opts.Log != nil {
		r.opts.Log.Logf(logging.LevelSystem, "WS session %q is closed.", sessionUUID)
	}
}

// SessionCount returns the number of joined sessions.
func (r *Room) SessionCount() int {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	return len(r.sessions)
}

// envelope is the outbound WebSocket message shape.
type envelope struct {
	API         string          `json:"API"`
	SessionUUID string          `json:"sessionUUID"`
	Broadcast   json.RawMessage `json:"broadcast,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// BroadcastWS serializes one envelope and enqueues it on every joined
// session. Sessions other than the source only receive it when broadcast
// is non-nil; a response-only envelope is private to the source.
// Whether the source itself is excluded is a per-call-site policy, not a
// room-wide rule. Safe to call with or without the dispatch lock held;
// only the session-set lock is taken.
func (r *Room) BroadcastWS(api, sourceUUID string, broadcast, response json.RawMessage, excludeSource bool) {
	if broadcast == nil && response == nil {
		return
	}

	msg, err := json.Marshal(envelope{
		API:         api,
		SessionUUID: sourceUUID,
		Broadcast:   broadcast,
		Response:    response,
	})
	if err != nil {
		if r.opts.Log != nil {
			r.opts.Log.Logf(logging.LevelError, "broadcast %s: %v", api, err)
		}
		return
	}

	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	for id, s := range r.sessions {
		if id == sourceUUID {
			if excludeSource {
				continue
			}
		} else if broadcast == nil {
			continue
		}
		s.Send(msg)
	}
}

// NewID mints a prefixed opaque id (room-, session-, task-).
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
