package mesh

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIsStable(t *testing.T) {
	a, err := Canonicalize(json.RawMessage(`{ "b": 1, "a": "x" }`))
	require.NoError(t, err)
	b, err := Canonicalize(json.RawMessage(`{"a":"x","b":1}`))
	require.NoError(t, err)

	// Same document, different formatting: identical canonical bytes.
	assert.Equal(t, string(a), string(b))

	again, err := Canonicalize(a)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(again))
}

func TestCanonicalizeRejectsInvalidJSON(t *testing.T) {
	_, err := Canonicalize(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}

func TestIsRemoval(t *testing.T) {
	assert.True(t, IsRemoval(RemoveSentinel()))
	assert.False(t, IsRemoval(json.RawMessage(`{"remove":false}`)))
	assert.False(t, IsRemoval(json.RawMessage(`{"vertices":[1,2,3]}`)))
	assert.False(t, IsRemoval(json.RawMessage(`not json`)))
}

func TestMergeUpdatesFields(t *testing.T) {
	merged, err := Merge(
		json.RawMessage(`{"name":"cube","visibility":true}`),
		json.RawMessage(`{"visibility":false}`),
	)
	require.NoError(t, err)

	var doc struct {
		Name       string `json:"name"`
		Visibility bool   `json:"visibility"`
	}
	require.NoError(t, json.Unmarshal(merged, &doc))
	assert.Equal(t, "cube", doc.Name)
	assert.False(t, doc.Visibility)
}

func TestMergeNullDeletesField(t *testing.T) {
	merged, err := Merge(
		json.RawMessage(`{"name":"cube","color":"red"}`),
		json.RawMessage(`{"color":null}`),
	)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(merged, &doc))
	assert.NotContains(t, doc, "color")
	assert.Equal(t, "cube", doc["name"])
}

func TestInverseNullsAddedKeys(t *testing.T) {
	previous := json.RawMessage(`{"name":"cube"}`)
	current := json.RawMessage(`{"name":"cube","color":"red"}`)

	patch, err := Inverse(current, previous)
	require.NoError(t, err)

	restored, err := Merge(current, patch)
	require.NoError(t, err)

	canonical, err := Canonicalize(previous)
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(restored))
}

func TestInverseRoundTripsValueChanges(t *testing.T) {
	previous := json.RawMessage(`{"name":"cube","visibility":true}`)
	current := json.RawMessage(`{"name":"sphere","visibility":false}`)

	patch, err := Inverse(current, previous)
	require.NoError(t, err)

	restored, err := Merge(current, patch)
	require.NoError(t, err)

	canonical, err := Canonicalize(previous)
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(restored))
}

func TestTablePutGetRemove(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, 0, tbl.Len())

	stored, err := tbl.Put("mesh-1", json.RawMessage(`{ "name": "cube" }`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"cube"}`, string(stored))

	got, ok := tbl.Get("mesh-1")
	require.True(t, ok)
	assert.Equal(t, string(stored), string(got))

	prev, ok := tbl.Remove("mesh-1")
	require.True(t, ok)
	assert.Equal(t, string(stored), string(prev))
	assert.Equal(t, 0, tbl.Len())

	_, ok = tbl.Remove("mesh-1")
	assert.False(t, ok)
}

func TestApplyDiffInsertUpdateRemove(t *testing.T) {
	tbl := NewTable()

	// Insert.
	applied, err := tbl.ApplyDiff(Diff{"mesh-1": json.RawMessage(`{"name":"cube","visibility":true}`)})
	require.NoError(t, err)
	require.Contains(t, applied, "mesh-1")

	// Update merges into the existing payload.
	applied, err = tbl.ApplyDiff(Diff{"mesh-1": json.RawMessage(`{"visibility":false}`)})
	require.NoError(t, err)
	var doc struct {
		Name       string `json:"name"`
		Visibility bool   `json:"visibility"`
	}
	require.NoError(t, json.Unmarshal(applied["mesh-1"], &doc))
	assert.Equal(t, "cube", doc.Name)
	assert.False(t, doc.Visibility)

	stored, ok := tbl.Get("mesh-1")
	require.True(t, ok)
	assert.Equal(t, string(applied["mesh-1"]), string(stored))

	// Remove keeps the sentinel in the applied diff.
	applied, err = tbl.ApplyDiff(Diff{"mesh-1": RemoveSentinel()})
	require.NoError(t, err)
	assert.True(t, IsRemoval(applied["mesh-1"]))
	assert.Equal(t, 0, tbl.Len())
}

func TestApplyDiffCanonicalMatchesSnapshot(t *testing.T) {
	tbl := NewTable()
	applied, err := tbl.ApplyDiff(Diff{"mesh-1": json.RawMessage(`{ "b": 2, "a": 1 }`)})
	require.NoError(t, err)

	snap := tbl.Snapshot()
	// The broadcast payload and a fresh fetch must be byte-identical.
	assert.Equal(t, string(applied["mesh-1"]), string(snap["mesh-1"]))
}
