package room

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/polyroom/polyroom/internal/logging"
)

// ErrUnknownAPI reports an API name with no registered handler. It is an
// input-validation failure, detected before any plugin runs.
var ErrUnknownAPI = errors.New("unknown API")

// FaultError reports a panic inside a plugin handler. It is distinct
// from bad input: the plugin was invoked and crashed.
type FaultError struct {
	API   string
	Cause interface{}
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("plugin %s fault: %v", e.API, e.Cause)
}

// Dispatch runs one API call against the room: busy-on broadcast, handler
// lookup and invocation, busy-off broadcast, then fan-out of any
// broadcast payload with the response alongside. Busy-off always
// precedes the result fan-out, so no client observes a result while the
// room is still marked busy. The dispatch lock is held throughout, so at
// most one call mutates this room at a time; calls against other rooms
// proceed concurrently.
func (r *Room) Dispatch(api, sourceUUID string, params json.RawMessage) (json.RawMessage, error) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	task := NewID("task-")
	r.beginTask(task)
	ended := false
	endOnce := func() {
		if !ended {
			ended = true
			r.endTask(task)
		}
	}
	// Error and panic paths still clear the task.
	defer endOnce()

	handler, ok := r.opts.APIs.Lookup(api)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, api)
	}

	response, broadcast, err := invoke(api, handler, r, params)
	if err != nil {
		if r.opts.Log != nil {
			r.opts.Log.Logf(logging.LevelError, "%s: %v", api, err)
		}
		return nil, err
	}

	endOnce()
	r.BroadcastWS(api, sourceUUID, broadcast, response, false)
	return response, nil
}

// invoke calls the handler with panic capture; a crashed plugin becomes
// a FaultError instead of taking down the connection goroutine.
func invoke(api string, h Handler, r *Room, params json.RawMessage) (response, broadcast json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			response, broadcast = nil, nil
			err = &FaultError{API: api, Cause: rec}
		}
	}()
	return h(r, params)
}

func (r *Room) beginTask(task string) {
	r.ifaceMu.Lock()
	r.tasks[task] = struct{}{}
	busy := len(r.tasks) > 0
	r.ifaceMu.Unlock()
	r.broadcastBusy(busy)
}

func (r *Room) endTask(task string) {
	r.ifaceMu.Lock()
	delete(r.tasks, task)
	busy := len(r.tasks) > 0
	r.ifaceMu.Unlock()
	r.broadcastBusy(busy)
}

func (r *Room) broadcastBusy(busy bool) {
	payload, _ := json.Marshal(map[string]bool{"isBusy": busy})
	r.BroadcastWS("isServerBusy", "", payload, nil, false)
}
