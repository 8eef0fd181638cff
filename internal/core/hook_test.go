package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postEvent(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestHookHandler_InjectEvent tests that an injected event is dispatched
func TestHookHandler_InjectEvent(t *testing.T) {
	e, fb := newTestEngine(t)
	p := e.NewPlugin("echo")
	p.OnIdle().Command("echo").Handle(func(dc *DispatchContext) error {
		dc.Send(dc.Arg)
		return nil
	})
	require.NoError(t, e.Register(p))
	h := e.HookHandler()

	w := postEvent(t, h, `{"bot_id":"bot","conversation_id":"g1","sender_id":"alice","text":"#echo hello"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, []string{"hello"}, fb.texts("g1"))

	w = postEvent(t, h, `{"id":"fixed","bot_id":"bot","conversation_id":"g1","message":[{"type":"text","data":{"text":"#echo segments"}}]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"fixed"`)
	assert.Equal(t, []string{"hello", "segments"}, fb.texts("g1"))
}

// TestHookHandler_InjectEventErrors tests rejected requests
func TestHookHandler_InjectEventErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	h := e.HookHandler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing conversation", `{"bot_id":"bot","text":"hi"}`, http.StatusBadRequest},
		{"empty text", `{"bot_id":"bot","conversation_id":"g1","text":"  "}`, http.StatusBadRequest},
		{"bad kind", `{"bot_id":"bot","conversation_id":"g1","kind":"channel","text":"hi"}`, http.StatusBadRequest},
		{"unknown bot", `{"bot_id":"nope","conversation_id":"g1","text":"hi"}`, http.StatusNotFound},
		{"too large", `{"text":"` + strings.Repeat("a", 1<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postEvent(t, h, tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

// TestHookHandler_RateLimit tests the per-client limit on injected events
func TestHookHandler_RateLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	e.config.HookServer.RateLimit = 2
	h := e.HookHandler()

	body := `{"bot_id":"bot","conversation_id":"g1","text":"hi"}`
	assert.Equal(t, http.StatusAccepted, postEvent(t, h, body).Code)
	assert.Equal(t, http.StatusAccepted, postEvent(t, h, body).Code)

	w := postEvent(t, h, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

// TestHookHandler_Endpoints tests the read-only endpoints
func TestHookHandler_Endpoints(t *testing.T) {
	e, _ := newTestEngine(t)
	p := e.NewPlugin("travel")
	p.State("earth")
	p.SetStartCommands("travel")
	require.NoError(t, e.Register(p))
	h := e.HookHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bots":["bot"]`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/states", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var dump StateDump
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dump))
	require.Len(t, dump.States, 3)
	assert.Equal(t, "root.travel.earth", dump.States[2].Path)
	require.Len(t, dump.States[0].Triggers, 1)
	assert.Equal(t, []string{"travel"}, dump.States[0].Triggers[0].Commands)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "statebot_events_total")
}
