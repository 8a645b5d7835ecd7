package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chihoc/midisf"
	"github.com/chihoc/midisf/focus"
	"github.com/chihoc/midisf/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *focus.Manual) {
	t.Helper()
	fm := focus.NewManual()
	p, err := midisf.New(midisf.Config{Synth: testutil.NewSynth(), Focus: fm})
	if err != nil {
		t.Fatalf("constructing player: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return New(p), fm
}

func postRPC(t *testing.T, s *Server, method string, args map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"method": method, "args": args})
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["interrupted"] != false {
		t.Errorf("interrupted field = %v, want false", body["interrupted"])
	}
}

func TestRPCLoadAndPlay(t *testing.T) {
	s, _ := newTestServer(t)

	w := postRPC(t, s, "loadSoundfont", map[string]any{
		"path": "piano.sf2", "bank": 0, "program": 0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d, body %s", w.Code, w.Body.String())
	}
	handle := decodeBody(t, w)["result"].(float64)
	if handle != 1 {
		t.Errorf("handle = %v, want 1", handle)
	}

	w = postRPC(t, s, "playNote", map[string]any{
		"sfId": handle, "channel": 0, "key": 60, "velocity": 100,
	})
	if w.Code != http.StatusOK {
		t.Errorf("playNote status = %d, body %s", w.Code, w.Body.String())
	}

	// Operations without a result payload respond with a null result.
	if res, present := decodeBody(t, w)["result"]; !present || res != nil {
		t.Errorf("playNote result = %v", res)
	}
}

func TestRPCErrorStatusMapping(t *testing.T) {
	s, _ := newTestServer(t)

	w := postRPC(t, s, "loadSoundfont", map[string]any{
		"path": "piano.sf2", "bank": 0, "program": 0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("load failed: %s", w.Body.String())
	}

	cases := []struct {
		name   string
		method string
		args   map[string]any
		status int
	}{
		{"missing argument", "playNote", map[string]any{"channel": 0, "key": 60, "velocity": 100}, http.StatusBadRequest},
		{"unknown method", "transposeEverything", map[string]any{}, http.StatusBadRequest},
		{"channel out of range", "playNote", map[string]any{"sfId": 1, "channel": 42, "key": 60, "velocity": 100}, http.StatusBadRequest},
		{"unknown handle", "playNote", map[string]any{"sfId": 99, "channel": 0, "key": 60, "velocity": 100}, http.StatusNotFound},
		{"unload absent handle", "unloadSoundfont", map[string]any{"sfId": 99}, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postRPC(t, s, tc.method, tc.args)
			if w.Code != tc.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.status, w.Body.String())
			}
			if decodeBody(t, w)["error"] == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestRPCLoadFailureIsUnprocessable(t *testing.T) {
	fake := testutil.NewSynth()
	fake.FailLoadPath = "broken.sf2"
	p, err := midisf.New(midisf.Config{Synth: fake})
	if err != nil {
		t.Fatalf("constructing player: %v", err)
	}
	defer p.Close()
	s := New(p)

	w := postRPC(t, s, "loadSoundfont", map[string]any{
		"path": "broken.sf2", "bank": 0, "program": 0,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 (body %s)", w.Code, w.Body.String())
	}
}

func TestRPCMalformedJSON(t *testing.T) {
	s, _ := newTestServer(t)

	for _, body := range []string{"", "{", `{"args": {}}`} {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestEventsStreamDeliversInterruption(t *testing.T) {
	s, fm := newTestServer(t)

	w := postRPC(t, s, "loadSoundfont", map[string]any{
		"path": "piano.sf2", "bank": 0, "program": 0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("load failed: %s", w.Body.String())
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// The stream flushes nothing until an event fires, so keep
	// interruption cycles coming until the client has read one.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fm.BeginInterruption()
				fm.EndInterruption(true)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var dataLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, "data:") {
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}

	var ev midisf.Event
	if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
		t.Fatalf("decoding event %q: %v", dataLine, err)
	}
	if ev.Event != midisf.EventAudioInterrupted {
		t.Errorf("event = %+v, want name %s", ev, midisf.EventAudioInterrupted)
	}
}
