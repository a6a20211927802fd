package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/polyroom/polyroom/internal/plugin"
	"github.com/polyroom/polyroom/internal/room"
)

// listPlugins reports every installed API with its metadata.
func listPlugins(reg *plugin.Registry) room.Handler {
	return func(_ *room.Room, _ json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		type info struct {
			Name      string `json:"name"`
			Author    string `json:"author"`
			Version   string `json:"version"`
			HasModule bool   `json:"hasModule"`
		}
		plugins := make([]info, 0)
		for _, name := range reg.Names() {
			meta, _ := reg.Metadata(name)
			plugins = append(plugins, info{
				Name:      name,
				Author:    meta.Author,
				Version:   meta.Version,
				HasModule: meta.HasModule,
			})
		}
		response, err := json.Marshal(map[string]interface{}{"plugins": plugins})
		if err != nil {
			return nil, nil, fmt.Errorf("listPlugins: %w", err)
		}
		return response, nil, nil
	}
}

// shutdown requests a graceful stop of the whole process. The request is
// asynchronous so the response still reaches the caller.
func shutdown(r *room.Room, _ json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	r.RequestShutdown()
	return emptyObject, nil, nil
}
