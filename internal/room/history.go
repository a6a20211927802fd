package room

import (
	"github.com/polyroom/polyroom/internal/mesh"
)

// EditHistory is the undo/redo stack: parallel arrays of forward and
// inverse diffs plus a cursor.
//
// Entry 0 of diffFromPrev is the empty initial state, so the cursor
// ranges over 0..len(diffFromPrev)-1 with undo blocked at 0. Moving
// i -> i+1 (redo) applies diffFromPrev[i+1]; moving i+1 -> i (undo)
// applies diffFromNext[i].
type EditHistory struct {
	index        int
	diffFromPrev []mesh.Diff
	diffFromNext []mesh.Diff
}

func newEditHistory() *EditHistory {
	return &EditHistory{
		index:        0,
		diffFromPrev: []mesh.Diff{{}},
		diffFromNext: nil,
	}
}

// HistoryIndex returns the room's current edit-history cursor.
func (r *Room) HistoryIndex() int {
	return r.history.index
}

// RecordHistory appends a (forward, inverse) diff pair. Any entries
// beyond the cursor are truncated first: a new edit invalidates redo
// history. The cursor advances to the new tail.
//
// Callers run under the dispatch lock; the mutation the diff describes
// has already been applied to the mesh table.
func (r *Room) RecordHistory(diff, inv mesh.Diff) {
	h := r.history
	h.diffFromNext = h.diffFromNext[:h.index]
	h.diffFromPrev = h.diffFromPrev[:h.index+1]
	h.diffFromNext = append(h.diffFromNext, inv)
	h.diffFromPrev = append(h.diffFromPrev, diff)
	h.index = len(h.diffFromNext)
}

// Undo steps the cursor back one state, applying the inverse diff to the
// live mesh table. It returns the applied diff with canonical payloads
// for broadcast, or nil when already at the initial state.
func (r *Room) Undo() (mesh.Diff, error) {
	h := r.history
	if h.index <= 0 {
		return nil, nil
	}
	applied, err := r.meshes.ApplyDiff(h.diffFromNext[h.index-1])
	if err != nil {
		return nil, err
	}
	h.index--
	return applied, nil
}

// Redo steps the cursor forward one state, applying the forward diff to
// the live mesh table. It returns the applied diff with canonical
// payloads for broadcast, or nil when already at the tail.
func (r *Room) Redo() (mesh.Diff, error) {
	h := r.history
	if h.index >= len(h.diffFromPrev)-1 {
		return nil, nil
	}
	applied, err := r.meshes.ApplyDiff(h.diffFromPrev[h.index+1])
	if err != nil {
		return nil, err
	}
	h.index++
	return applied, nil
}
