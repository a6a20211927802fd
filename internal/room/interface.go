package room

// Interface state shared by the clients of a room: the synchronized
// camera and the per-session mouse cursors. Each camera component
// carries a timestamp so late or out-of-order updates lose against newer
// ones per field, not per message.

// CameraVector is one camera component with its update timestamp
// (client-side milliseconds).
type CameraVector struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"`
}

// CameraZoom is the zoom component.
type CameraZoom struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// Camera is the shared view of a room.
type Camera struct {
	Target   CameraVector `json:"target"`
	Position CameraVector `json:"position"`
	Up       CameraVector `json:"up"`
	Zoom     CameraZoom   `json:"zoom"`
}

// DefaultCamera returns the view a fresh room starts with.
func DefaultCamera() Camera {
	return Camera{
		Target:   CameraVector{X: 0.0, Y: 0.0, Z: 0.0},
		Position: CameraVector{X: -30.0, Y: 40.0, Z: 30.0},
		Up:       CameraVector{X: 0.0, Y: 1.0, Z: 0.0},
		Zoom:     CameraZoom{Value: 1.0},
	}
}

// Cursor is one session's pointer position plus its icon index.
type Cursor struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Idx int     `json:"idx"`
}

// MergeCamera folds an update into the shared camera, keeping each
// component only when its timestamp is newer, and returns the merged
// state.
func (r *Room) MergeCamera(update Camera) Camera {
	r.ifaceMu.Lock()
	defer r.ifaceMu.Unlock()
	if update.Target.Timestamp > r.camera.Target.Timestamp {
		r.camera.Target = update.Target
	}
	if update.Position.Timestamp > r.camera.Position.Timestamp {
		r.camera.Position = update.Position
	}
	if update.Up.Timestamp > r.camera.Up.Timestamp {
		r.camera.Up = update.Up
	}
	if update.Zoom.Timestamp > r.camera.Zoom.Timestamp {
		r.camera.Zoom = update.Zoom
	}
	return r.camera
}

// CameraSnapshot returns the current shared camera.
func (r *Room) CameraSnapshot() Camera {
	r.ifaceMu.Lock()
	defer r.ifaceMu.Unlock()
	return r.camera
}

// SetCursor records a session's cursor position.
func (r *Room) SetCursor(sessionUUID string, c Cursor) {
	r.ifaceMu.Lock()
	defer r.ifaceMu.Unlock()
	r.cursors[sessionUUID] = c
}

// RemoveCursor drops a session's cursor, typically on session teardown.
func (r *Room) RemoveCursor(sessionUUID string) {
	r.ifaceMu.Lock()
	defer r.ifaceMu.Unlock()
	delete(r.cursors, sessionUUID)
}

// Cursors returns a copy of the cursor table.
func (r *Room) Cursors() map[string]Cursor {
	r.ifaceMu.Lock()
	defer r.ifaceMu.Unlock()
	out := make(map[string]Cursor, len(r.cursors))
	for id, c := range r.cursors {
		out[id] = c
	}
	return out
}
