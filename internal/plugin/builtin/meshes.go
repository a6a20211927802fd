package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/polyroom/polyroom/internal/mesh"
	"github.com/polyroom/polyroom/internal/room"
)

// loadMesh stores one or more meshes and records the edit in the room's
// history. The broadcast (and response) carry the canonical stored
// payloads rather than the raw input, so every client ends up with the
// same bytes a fresh pullCurrentMeshes would return.
//
// parameters: {"sessionUUID": "...", "meshes": {"<meshUUID>": {...}}}
func loadMesh(r *room.Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	var p struct {
		Meshes map[string]json.RawMessage `json:"meshes"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("loadMesh: invalid parameters: %w", err)
	}
	if len(p.Meshes) == 0 {
		return nil, nil, fmt.Errorf("loadMesh: no meshes given")
	}

	diff := make(mesh.Diff, len(p.Meshes))
	prev := make(map[string]json.RawMessage, len(p.Meshes))
	for id, payload := range p.Meshes {
		diff[id] = payload
		if stored, ok := r.Meshes().Get(id); ok {
			prev[id] = stored
		}
	}

	applied, err := r.Meshes().ApplyDiff(diff)
	if err != nil {
		return nil, nil, fmt.Errorf("loadMesh: %w", err)
	}

	// Inverses for updates are computed against the applied state, so
	// keys the update added are nulled out on undo rather than kept.
	inv := make(mesh.Diff, len(p.Meshes))
	for id := range diff {
		before, existed := prev[id]
		if !existed {
			inv[id] = mesh.RemoveSentinel()
			continue
		}
		patch, err := mesh.Inverse(applied[id], before)
		if err != nil {
			return nil, nil, fmt.Errorf("loadMesh: %w", err)
		}
		inv[id] = patch
	}
	r.RecordHistory(applied, inv)

	payload, err := json.Marshal(map[string]interface{}{"meshes": applied})
	if err != nil {
		return nil, nil, fmt.Errorf("loadMesh: %w", err)
	}
	return payload, payload, nil
}

// removeMesh erases meshes from the room, recording the removals so they
// can be undone.
//
// parameters: {"meshUUIDs": ["...", ...]}
func removeMesh(r *room.Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	var p struct {
		MeshUUIDs []string `json:"meshUUIDs"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("removeMesh: invalid parameters: %w", err)
	}
	if len(p.MeshUUIDs) == 0 {
		return nil, nil, fmt.Errorf("removeMesh: no meshUUIDs given")
	}

	diff := make(mesh.Diff, len(p.MeshUUIDs))
	inv := make(mesh.Diff, len(p.MeshUUIDs))
	for _, id := range p.MeshUUIDs {
		prev, ok := r.Meshes().Get(id)
		if !ok {
			return nil, nil, fmt.Errorf("removeMesh: unknown mesh %s", id)
		}
		diff[id] = mesh.RemoveSentinel()
		inv[id] = prev
	}

	applied, err := r.Meshes().ApplyDiff(diff)
	if err != nil {
		return nil, nil, fmt.Errorf("removeMesh: %w", err)
	}
	r.RecordHistory(applied, inv)

	payload, err := json.Marshal(map[string]interface{}{"meshes": applied})
	if err != nil {
		return nil, nil, fmt.Errorf("removeMesh: %w", err)
	}
	return payload, payload, nil
}

// toggleMeshVisibility flips a mesh's visibility flag. Visibility is a
// view toggle, not an edit, so it is broadcast without touching the
// history.
//
// parameters: {"meshUUID": "..."}
func toggleMeshVisibility(r *room.Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	var p struct {
		MeshUUID string `json:"meshUUID"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("toggleMeshVisibility: invalid parameters: %w", err)
	}

	current, ok := r.Meshes().Get(p.MeshUUID)
	if !ok {
		return nil, nil, fmt.Errorf("toggleMeshVisibility: unknown mesh %s", p.MeshUUID)
	}

	var fields struct {
		Visibility *bool `json:"visibility"`
	}
	if err := json.Unmarshal(current, &fields); err != nil {
		return nil, nil, fmt.Errorf("toggleMeshVisibility: %w", err)
	}
	visible := true
	if fields.Visibility != nil {
		visible = *fields.Visibility
	}

	patch, _ := json.Marshal(map[string]bool{"visibility": !visible})
	applied, err := r.Meshes().ApplyDiff(mesh.Diff{p.MeshUUID: patch})
	if err != nil {
		return nil, nil, fmt.Errorf("toggleMeshVisibility: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{"meshes": applied})
	if err != nil {
		return nil, nil, fmt.Errorf("toggleMeshVisibility: %w", err)
	}
	return payload, payload, nil
}

// pullCurrentMeshes returns the full canonical mesh table to the caller
// only.
func pullCurrentMeshes(r *room.Room, _ json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	response, err := json.Marshal(map[string]interface{}{"meshes": r.Meshes().Snapshot()})
	if err != nil {
		return nil, nil, fmt.Errorf("pullCurrentMeshes: %w", err)
	}
	return response, nil, nil
}
