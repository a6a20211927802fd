package room

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyroom/polyroom/internal/mesh"
)

// record applies a forward diff to the room's mesh table and records it
// with its inverse, the way the mesh-editing handlers do.
func record(t *testing.T, r *Room, diff mesh.Diff) {
	t.Helper()
	inv := make(mesh.Diff, len(diff))
	for id, entry := range diff {
		if prev, ok := r.Meshes().Get(id); ok {
			inv[id] = prev
		} else if mesh.IsRemoval(entry) {
			t.Fatalf("removing unknown mesh %s", id)
		} else {
			inv[id] = mesh.RemoveSentinel()
		}
	}
	applied, err := r.Meshes().ApplyDiff(diff)
	require.NoError(t, err)
	r.RecordHistory(applied, inv)
}

func payload(name string) mesh.Diff {
	return mesh.Diff{"mesh-1": json.RawMessage(fmt.Sprintf(`{"name":%q}`, name))}
}

func TestHistoryStartsAtInitialState(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	assert.Equal(t, 0, r.HistoryIndex())

	applied, err := r.Undo()
	require.NoError(t, err)
	assert.Nil(t, applied)

	applied, err = r.Redo()
	require.NoError(t, err)
	assert.Nil(t, applied)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	r := newTestRoom(t, tableFunc{})

	record(t, r, payload("v1"))
	record(t, r, payload("v2"))
	record(t, r, payload("v3"))
	assert.Equal(t, 3, r.HistoryIndex())

	after3, ok := r.Meshes().Get("mesh-1")
	require.True(t, ok)

	// Undo back to v2, then v1.
	applied, err := r.Undo()
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.Equal(t, 2, r.HistoryIndex())
	got, _ := r.Meshes().Get("mesh-1")
	assert.JSONEq(t, `{"name":"v2"}`, string(got))

	_, err = r.Undo()
	require.NoError(t, err)
	assert.Equal(t, 1, r.HistoryIndex())
	got, _ = r.Meshes().Get("mesh-1")
	assert.JSONEq(t, `{"name":"v1"}`, string(got))

	// Undo past the first edit removes the mesh entirely.
	applied, err = r.Undo()
	require.NoError(t, err)
	assert.True(t, mesh.IsRemoval(applied["mesh-1"]))
	assert.Equal(t, 0, r.HistoryIndex())
	assert.Equal(t, 0, r.Meshes().Len())

	// Redo all the way forward restores byte-identical state.
	for i := 0; i < 3; i++ {
		applied, err = r.Redo()
		require.NoError(t, err)
		require.NotNil(t, applied)
	}
	assert.Equal(t, 3, r.HistoryIndex())
	got, ok = r.Meshes().Get("mesh-1")
	require.True(t, ok)
	assert.Equal(t, string(after3), string(got))

	// At the tail, redo is a no-op.
	applied, err = r.Redo()
	require.NoError(t, err)
	assert.Nil(t, applied)
}

func TestRecordTruncatesRedoTail(t *testing.T) {
	r := newTestRoom(t, tableFunc{})

	record(t, r, payload("v1"))
	record(t, r, payload("v2"))

	_, err := r.Undo()
	require.NoError(t, err)
	assert.Equal(t, 1, r.HistoryIndex())

	// A fresh edit at cursor 1 discards the v2 entry.
	record(t, r, payload("v2b"))
	assert.Equal(t, 2, r.HistoryIndex())

	applied, err := r.Redo()
	require.NoError(t, err)
	assert.Nil(t, applied, "redo history must be gone after a new edit")

	got, _ := r.Meshes().Get("mesh-1")
	assert.JSONEq(t, `{"name":"v2b"}`, string(got))

	_, err = r.Undo()
	require.NoError(t, err)
	got, _ = r.Meshes().Get("mesh-1")
	assert.JSONEq(t, `{"name":"v1"}`, string(got))
}

func TestUndoRemovalRestoresMesh(t *testing.T) {
	r := newTestRoom(t, tableFunc{})

	record(t, r, payload("v1"))
	stored, ok := r.Meshes().Get("mesh-1")
	require.True(t, ok)

	record(t, r, mesh.Diff{"mesh-1": mesh.RemoveSentinel()})
	assert.Equal(t, 0, r.Meshes().Len())

	applied, err := r.Undo()
	require.NoError(t, err)
	require.NotNil(t, applied)

	restored, ok := r.Meshes().Get("mesh-1")
	require.True(t, ok)
	assert.Equal(t, string(stored), string(restored))
}
