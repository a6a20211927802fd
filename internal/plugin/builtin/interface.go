package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/polyroom/polyroom/internal/room"
)

// syncCursor records one session's pointer position (or removes it) and
// echoes the parameters to every session, the sender included, so all
// clients render the same cursor set.
//
// parameters:
//
//	{
//	  "sessionUUID": "...",
//	  "cursor": {"dir": {"x": ..., "y": ...}, "idx": ...}
//	}
//
// or, for removal: {"sessionUUID": "...", "cursor": {"remove": true}}
func syncCursor(r *room.Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	var p struct {
		SessionUUID string `json:"sessionUUID"`
		Cursor      struct {
			Dir struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"dir"`
			Idx    int  `json:"idx"`
			Remove bool `json:"remove"`
		} `json:"cursor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("syncCursor: invalid parameters: %w", err)
	}
	if p.SessionUUID == "" {
		return nil, nil, fmt.Errorf("syncCursor: sessionUUID is required")
	}

	if p.Cursor.Remove {
		r.RemoveCursor(p.SessionUUID)
	} else {
		r.SetCursor(p.SessionUUID, room.Cursor{
			X:   p.Cursor.Dir.X,
			Y:   p.Cursor.Dir.Y,
			Idx: p.Cursor.Idx,
		})
	}

	return emptyObject, params, nil
}

// syncCamera merges a camera update into the room's shared view. Each
// component wins only when its timestamp is newer, so two clients
// dragging at once converge instead of flickering. The merged camera is
// broadcast to everyone.
func syncCamera(r *room.Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	var p struct {
		Camera room.Camera `json:"camera"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("syncCamera: invalid parameters: %w", err)
	}

	merged := r.MergeCamera(p.Camera)
	broadcast, err := json.Marshal(map[string]interface{}{"camera": merged})
	if err != nil {
		return nil, nil, fmt.Errorf("syncCamera: %w", err)
	}
	return emptyObject, broadcast, nil
}

// pullCanvasParameters returns the current shared camera and cursor set
// to the caller only; nothing is broadcast.
func pullCanvasParameters(r *room.Room, _ json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	response, err := json.Marshal(map[string]interface{}{
		"camera":  r.CameraSnapshot(),
		"cursors": r.Cursors(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pullCanvasParameters: %w", err)
	}
	return response, nil, nil
}
