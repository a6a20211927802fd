package mesh

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
)

// Diff maps mesh ids to either a mesh payload (insert or merge-update)
// or the removal sentinel {"remove": true}.
type Diff map[string]json.RawMessage

// RemoveSentinel returns the payload that marks a mesh for removal in a
// diff.
func RemoveSentinel() json.RawMessage {
	return json.RawMessage(`{"remove":true}`)
}

// IsRemoval reports whether a diff entry is the removal sentinel.
func IsRemoval(raw json.RawMessage) bool {
	var probe struct {
		Remove bool `json:"remove"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Remove
}

// Canonicalize re-serializes a mesh payload into its canonical form:
// keys sorted, numbers normalized. Two payloads describing the same mesh
// canonicalize to byte-identical JSON, which is what broadcast consumers
// compare against fresh fetches.
func Canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid mesh payload: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize mesh: %w", err)
	}
	return out, nil
}

// Inverse returns the merge patch that transforms current back into
// previous. Keys current added carry explicit nulls, so applying the
// result deletes them instead of leaving them behind.
func Inverse(current, previous json.RawMessage) (json.RawMessage, error) {
	patch, err := jsonpatch.CreateMergePatch(current, previous)
	if err != nil {
		return nil, fmt.Errorf("failed to compute inverse: %w", err)
	}
	return patch, nil
}

// Merge applies patch to current as an RFC 7386 merge patch and returns
// the canonical result.
func Merge(current, patch json.RawMessage) (json.RawMessage, error) {
	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to merge mesh: %w", err)
	}
	return Canonicalize(merged)
}

// Table is the mutable mesh table of one room, keyed by mesh id. It is
// not goroutine safe; the owning room serializes access through its
// dispatch lock.
type Table struct {
	meshes map[string]json.RawMessage
}

// NewTable returns an empty mesh table.
func NewTable() *Table {
	return &Table{meshes: make(map[string]json.RawMessage)}
}

// Len returns the number of meshes.
func (t *Table) Len() int {
	return len(t.meshes)
}

// Get returns the canonical payload of a mesh.
func (t *Table) Get(id string) (json.RawMessage, bool) {
	m, ok := t.meshes[id]
	return m, ok
}

// Put stores a mesh, canonicalizing it, and returns the stored form.
func (t *Table) Put(id string, raw json.RawMessage) (json.RawMessage, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	t.meshes[id] = canonical
	return canonical, nil
}

// Remove deletes a mesh and returns its previous payload.
func (t *Table) Remove(id string) (json.RawMessage, bool) {
	prev, ok := t.meshes[id]
	delete(t.meshes, id)
	return prev, ok
}

// Snapshot returns a copy of the table contents.
func (t *Table) Snapshot() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(t.meshes))
	for id, m := range t.meshes {
		out[id] = m
	}
	return out
}

// ApplyDiff mutates the table per diff entry: removal sentinel deletes
// the mesh, an absent id inserts, a present id merge-updates in place.
// The returned diff carries the canonical stored payloads (removals keep
// the sentinel), which is the form broadcast to clients.
func (t *Table) ApplyDiff(diff Diff) (Diff, error) {
	applied := make(Diff, len(diff))
	for id, entry := range diff {
		switch {
		case IsRemoval(entry):
			t.Remove(id)
			applied[id] = RemoveSentinel()
		default:
			current, exists := t.meshes[id]
			if !exists {
				canonical, err := t.Put(id, entry)
				if err != nil {
					return nil, fmt.Errorf("mesh %s: %w", id, err)
				}
				applied[id] = canonical
				continue
			}
			merged, err := Merge(current, entry)
			if err != nil {
				return nil, fmt.Errorf("mesh %s: %w", id, err)
			}
			t.meshes[id] = merged
			applied[id] = merged
		}
	}
	return applied, nil
}
