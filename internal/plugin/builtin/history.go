package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/polyroom/polyroom/internal/room"
)

// undo steps the room's edit history back one state and broadcasts the
// applied diff so every client, the caller included, replays the same
// change. At the initial state it is a no-op with an empty response.
func undo(r *room.Room, _ json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	applied, err := r.Undo()
	if err != nil {
		return nil, nil, fmt.Errorf("undo: %w", err)
	}
	if applied == nil {
		return emptyObject, nil, nil
	}

	payload, err := json.Marshal(map[string]interface{}{"meshes": applied})
	if err != nil {
		return nil, nil, fmt.Errorf("undo: %w", err)
	}
	return payload, payload, nil
}

// redo steps the history forward one state; see undo.
func redo(r *room.Room, _ json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	applied, err := r.Redo()
	if err != nil {
		return nil, nil, fmt.Errorf("redo: %w", err)
	}
	if applied == nil {
		return emptyObject, nil, nil
	}

	payload, err := json.Marshal(map[string]interface{}{"meshes": applied})
	if err != nil {
		return nil, nil, fmt.Errorf("redo: %w", err)
	}
	return payload, payload, nil
}
