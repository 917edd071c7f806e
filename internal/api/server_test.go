package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"netsentinel/internal/model"
	"netsentinel/internal/sampler"
	"netsentinel/internal/store"
)

type stubProber struct{}

func (stubProber) Probe(context.Context, model.Target) model.ProbeResult {
	return model.ProbeResult{Success: true, LatencyMs: 30}
}

func newTestMonitor(t *testing.T) (*store.Store, *sampler.Sampler) {
	t.Helper()
	st := store.New([]model.Target{
		{ID: "a", Name: "A", URL: "https://a.example"},
		{ID: "b", Name: "B", URL: "https://b.example"},
	})
	smp := sampler.New(st, stubProber{}, sampler.Options{Interval: 10 * time.Millisecond})
	t.Cleanup(func() {
		smp.Stop()
		smp.Wait()
	})
	return st, smp
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestState_AndMethodChecks(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	h := NewServer("", st, smp).Handler()

	rec := do(t, h, http.MethodGet, "/api/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var state StateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Running || len(state.Targets) != 2 || state.View.TargetID != "a" {
		t.Fatalf("state=%+v", state)
	}

	if rec := do(t, h, http.MethodPost, "/api/state", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/recording", `{"running":true,"extra":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d", rec.Code)
	}
}

func TestRecording_ToggleAndConflicts(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	h := NewServer("", st, smp).Handler()

	rec := do(t, h, http.MethodPost, "/api/recording", `{"running":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/api/recording", `{"running":true}`)
	var again RecordingResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &again)
	if again.Changed || !again.Running {
		t.Fatalf("second start=%+v", again)
	}

	if rec := do(t, h, http.MethodDelete, "/api/sessions", ""); rec.Code != http.StatusConflict {
		t.Fatalf("clear while recording status=%d", rec.Code)
	}

	waitFor(t, func() bool { return len(st.Live()["b"]) >= 1 })
	rec = do(t, h, http.MethodPost, "/api/recording", `{"running":false}`)
	var stopped RecordingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stopped.Running || !stopped.Changed || stopped.Session == nil {
		t.Fatalf("stop=%+v", stopped)
	}

	if rec := do(t, h, http.MethodDelete, "/api/sessions", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear status=%d", rec.Code)
	}
}

func TestView_ErrorMapping(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	h := NewServer("", st, smp).Handler()

	if rec := do(t, h, http.MethodPost, "/api/view", `{"session_id":"nope"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/view", `{"target_id":"zz"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown target status=%d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/view", `{"target_id":"b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/view", ""); !strings.Contains(rec.Body.String(), `"target_id":"b"`) {
		t.Fatalf("view=%s", rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/sessions/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("session status=%d", rec.Code)
	}
}

func TestExport_Formats(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	h := NewServer("", st, smp).Handler()

	epoch, _ := st.Start()
	st.AppendSample(epoch, "a", model.ProbeResult{Success: true, LatencyMs: 12})
	session, _ := st.Stop()

	rec := do(t, h, http.MethodGet, "/api/sessions/"+session.ID+"/export?format=csv", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("csv status=%d type=%s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n"); len(lines) != 2 {
		t.Fatalf("csv lines=%d", len(lines))
	}

	rec = do(t, h, http.MethodGet, "/api/sessions/"+session.ID+"/export?format=json", "")
	var got model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.ID != session.ID {
		t.Fatalf("json=%s err=%v", rec.Body.String(), err)
	}

	if rec := do(t, h, http.MethodGet, "/api/sessions/"+session.ID+"/export?format=xml", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("xml status=%d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/sessions", "")
	var list []SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list=%s err=%v", rec.Body.String(), err)
	}
	if list[0].Summary["a"].Total != 1 {
		t.Fatalf("summary=%+v", list[0].Summary)
	}
}

func TestDatasetAndScores_FollowView(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	h := NewServer("", st, smp).Handler()

	epoch, _ := st.Start()
	st.AppendSample(epoch, "a", model.ProbeResult{Success: true, LatencyMs: 20})
	st.AppendSample(epoch, "a", model.ProbeResult{Success: false})

	rec := do(t, h, http.MethodGet, "/api/dataset", "")
	var ds DatasetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ds); err != nil || len(ds.Samples) != 2 {
		t.Fatalf("dataset=%s err=%v", rec.Body.String(), err)
	}

	rec = do(t, h, http.MethodGet, "/api/scores", "")
	var scores ScoresResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &scores); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if scores.Scores[0].Total != 50 || scores.Summary.Bad != 1 {
		t.Fatalf("scores=%+v", scores)
	}

	rec = do(t, h, http.MethodGet, "/api/live", "")
	var live map[string][]model.Sample
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil || len(live["a"]) != 2 {
		t.Fatalf("live=%s err=%v", rec.Body.String(), err)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	rec := do(t, NewServer("", st, smp).Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "netsentinel_recording") {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestWS_StreamsEvents(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	srv := httptest.NewServer(NewServer("", st, smp).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/live", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	epoch, _ := st.Start()
	st.AppendSample(epoch, "a", model.ProbeResult{Success: true, LatencyMs: 8})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var ev store.Event
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Kind == store.EventSample {
			if ev.TargetID != "a" || ev.Sample == nil || ev.Sample.LatencyMs != 8 {
				t.Fatalf("event=%+v", ev)
			}
			return
		}
	}
}
