// Package builtin registers the stock API set every server carries:
// cursor/camera synchronization, mesh loading and bookkeeping, the
// undo/redo protocol, plugin listing, and shutdown.
package builtin

import (
	"encoding/json"

	"github.com/polyroom/polyroom/internal/plugin"
	"github.com/polyroom/polyroom/internal/room"
)

const (
	builtinAuthor  = "polyroom developers"
	builtinVersion = "1.0.0"
)

var emptyObject = json.RawMessage(`{}`)

// RegisterAll installs every builtin API into the registry.
func RegisterAll(reg *plugin.Registry) error {
	handlers := map[string]room.Handler{
		"syncCursor":           syncCursor,
		"syncCamera":           syncCamera,
		"pullCanvasParameters": pullCanvasParameters,
		"loadMesh":             loadMesh,
		"removeMesh":           removeMesh,
		"toggleMeshVisibility": toggleMeshVisibility,
		"pullCurrentMeshes":    pullCurrentMeshes,
		"undo":                 undo,
		"redo":                 redo,
		"shutdown":             shutdown,
	}
	for name, h := range handlers {
		meta := plugin.Metadata{Author: builtinAuthor, Version: builtinVersion}
		if err := reg.Register(name, h, meta); err != nil {
			return err
		}
	}
	// listPlugins closes over the registry it reports on.
	return reg.Register("listPlugins", listPlugins(reg),
		plugin.Metadata{Author: builtinAuthor, Version: builtinVersion})
}
