package room

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession collects everything sent to it.
type fakeSession struct {
	uuid string

	mu   sync.Mutex
	msgs [][]byte
}

func (s *fakeSession) UUID() string { return s.uuid }

func (s *fakeSession) Send(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return true
}

func (s *fakeSession) received() []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope, 0, len(s.msgs))
	for _, msg := range s.msgs {
		var env envelope
		if err := json.Unmarshal(msg, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSession) lastFor(api string) (envelope, bool) {
	var found envelope
	ok := false
	for _, env := range s.received() {
		if env.API == api {
			found = env
			ok = true
		}
	}
	return found, ok
}

// tableFunc lets tests supply handlers inline.
type tableFunc map[string]Handler

func (t tableFunc) Lookup(name string) (Handler, bool) {
	h, ok := t[name]
	return h, ok
}

func newTestRoom(t *testing.T, apis APITable) *Room {
	t.Helper()
	return New("room-test", Options{APIs: apis})
}

func TestJoinLeave(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	a := &fakeSession{uuid: "session-a"}

	r.JoinWS(a)
	assert.Equal(t, 1, r.SessionCount())

	r.LeaveWS("session-a")
	assert.Equal(t, 0, r.SessionCount())

	// Leaving twice is fine; teardown paths may race.
	r.LeaveWS("session-a")
	assert.Equal(t, 0, r.SessionCount())
}

func TestBroadcastReachesEveryoneIncludingSource(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	a := &fakeSession{uuid: "session-a"}
	b := &fakeSession{uuid: "session-b"}
	r.JoinWS(a)
	r.JoinWS(b)

	payload := json.RawMessage(`{"x":1}`)
	r.BroadcastWS("syncCursor", "session-a", payload, nil, false)

	envA, ok := a.lastFor("syncCursor")
	require.True(t, ok)
	envB, ok := b.lastFor("syncCursor")
	require.True(t, ok)

	assert.Equal(t, "session-a", envA.SessionUUID)
	assert.JSONEq(t, `{"x":1}`, string(envA.Broadcast))
	assert.JSONEq(t, `{"x":1}`, string(envB.Broadcast))
}

func TestBroadcastExcludeSource(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	a := &fakeSession{uuid: "session-a"}
	b := &fakeSession{uuid: "session-b"}
	r.JoinWS(a)
	r.JoinWS(b)

	r.BroadcastWS("syncCursor", "session-a", json.RawMessage(`{}`), nil, true)

	_, ok := a.lastFor("syncCursor")
	assert.False(t, ok)
	_, ok = b.lastFor("syncCursor")
	assert.True(t, ok)
}

func TestResponseOnlyEnvelopeIsPrivateToSource(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	a := &fakeSession{uuid: "session-a"}
	b := &fakeSession{uuid: "session-b"}
	r.JoinWS(a)
	r.JoinWS(b)

	r.BroadcastWS("pullCurrentMeshes", "session-a", nil, json.RawMessage(`{"meshes":{}}`), false)

	envA, ok := a.lastFor("pullCurrentMeshes")
	require.True(t, ok)
	assert.JSONEq(t, `{"meshes":{}}`, string(envA.Response))

	_, ok = b.lastFor("pullCurrentMeshes")
	assert.False(t, ok, "response-only envelope must not reach non-source sessions")
}

func TestBroadcastNothingToSend(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	a := &fakeSession{uuid: "session-a"}
	r.JoinWS(a)

	r.BroadcastWS("noop", "session-a", nil, nil, false)
	assert.Empty(t, a.received())
}

func TestDispatchFansOutBroadcastAndResponse(t *testing.T) {
	handler := func(r *Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), json.RawMessage(`{"seen":true}`), nil
	}
	r := newTestRoom(t, tableFunc{"poke": handler})
	a := &fakeSession{uuid: "session-a"}
	b := &fakeSession{uuid: "session-b"}
	r.JoinWS(a)
	r.JoinWS(b)

	response, err := r.Dispatch("poke", "session-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(response))

	envA, ok := a.lastFor("poke")
	require.True(t, ok)
	assert.JSONEq(t, `{"seen":true}`, string(envA.Broadcast))
	assert.JSONEq(t, `{"ok":true}`, string(envA.Response))

	envB, ok := b.lastFor("poke")
	require.True(t, ok)
	assert.JSONEq(t, `{"seen":true}`, string(envB.Broadcast))
}

func TestDispatchBusySignals(t *testing.T) {
	handler := func(r *Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		return json.RawMessage(`{}`), nil, nil
	}
	r := newTestRoom(t, tableFunc{"poke": handler})
	a := &fakeSession{uuid: "session-a"}
	r.JoinWS(a)

	_, err := r.Dispatch("poke", "session-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	var busy []bool
	for _, env := range a.received() {
		if env.API != "isServerBusy" {
			continue
		}
		var p struct {
			IsBusy bool `json:"isBusy"`
		}
		require.NoError(t, json.Unmarshal(env.Broadcast, &p))
		busy = append(busy, p.IsBusy)
	}
	assert.Equal(t, []bool{true, false}, busy)
}

func TestDispatchBusyClearsBeforeResult(t *testing.T) {
	handler := func(r *Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), json.RawMessage(`{"seen":true}`), nil
	}
	r := newTestRoom(t, tableFunc{"poke": handler})
	a := &fakeSession{uuid: "session-a"}
	r.JoinWS(a)

	_, err := r.Dispatch("poke", "session-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	var order []string
	for _, env := range a.received() {
		switch env.API {
		case "isServerBusy":
			var p struct {
				IsBusy bool `json:"isBusy"`
			}
			require.NoError(t, json.Unmarshal(env.Broadcast, &p))
			if p.IsBusy {
				order = append(order, "busy-on")
			} else {
				order = append(order, "busy-off")
			}
		case "poke":
			order = append(order, "result")
		}
	}
	assert.Equal(t, []string{"busy-on", "busy-off", "result"}, order)
}

func TestDispatchFailureStillClearsBusy(t *testing.T) {
	handler := func(r *Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		return nil, nil, fmt.Errorf("bad input")
	}
	r := newTestRoom(t, tableFunc{"poke": handler})
	a := &fakeSession{uuid: "session-a"}
	r.JoinWS(a)

	_, err := r.Dispatch("poke", "session-a", json.RawMessage(`{}`))
	require.Error(t, err)

	var busy []bool
	for _, env := range a.received() {
		if env.API != "isServerBusy" {
			continue
		}
		var p struct {
			IsBusy bool `json:"isBusy"`
		}
		require.NoError(t, json.Unmarshal(env.Broadcast, &p))
		busy = append(busy, p.IsBusy)
	}
	assert.Equal(t, []bool{true, false}, busy, "busy-off must fire exactly once on failure")
}

func TestDispatchUnknownAPI(t *testing.T) {
	r := newTestRoom(t, tableFunc{})
	_, err := r.Dispatch("noSuchAPI", "session-a", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAPI)
}

func TestDispatchRecoversPanics(t *testing.T) {
	handler := func(r *Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		panic("plugin bug")
	}
	r := newTestRoom(t, tableFunc{"broken": handler})
	a := &fakeSession{uuid: "session-a"}
	r.JoinWS(a)

	_, err := r.Dispatch("broken", "session-a", json.RawMessage(`{}`))
	require.Error(t, err)

	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "broken", fault.API)
	assert.True(t, strings.Contains(fault.Error(), "plugin bug"))

	// The room is still usable after a crashed handler.
	_, err = r.Dispatch("broken", "session-a", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDispatchSerializesPerRoom(t *testing.T) {
	var depth, maxDepth int
	var mu sync.Mutex
	handler := func(r *Room, params json.RawMessage) (json.RawMessage, json.RawMessage, error) {
		mu.Lock()
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		depth--
		mu.Unlock()
		return json.RawMessage(`{}`), nil, nil
	}
	r := newTestRoom(t, tableFunc{"poke": handler})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Dispatch("poke", "", json.RawMessage(`{}`))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxDepth, "dispatch must be serialized per room")
}

func TestNewIDPrefixes(t *testing.T) {
	id := NewID("room-")
	assert.True(t, strings.HasPrefix(id, "room-"))
	assert.NotEqual(t, id, NewID("room-"))
}
