package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL)
	err := c.ClearHistory(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if got == "" || got[len(got)-1] == '\n' {
		t.Fatalf("unexpected error string: %q", got)
	}
	if want := "409"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `"error":"nope"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
}

func TestClient_AgainstServer(t *testing.T) {
	t.Parallel()

	st, smp := newTestMonitor(t)
	srv := httptest.NewServer(NewServer("", st, smp).Handler())
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL + "/")

	resp, err := c.SetRecording(ctx, true)
	if err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	if !resp.Running || !resp.Changed || resp.EpochID == "" {
		t.Fatalf("start=%+v", resp)
	}
	waitFor(t, func() bool {
		live := st.Live()
		return len(live["a"]) >= 2 && len(live["b"]) >= 2
	})

	resp, err = c.SetRecording(ctx, false)
	if err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	if resp.Running || resp.Session == nil {
		t.Fatalf("stop=%+v", resp)
	}
	smp.Wait()

	sessions, err := c.Sessions(ctx)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions=%+v err=%v", sessions, err)
	}
	full, err := c.Session(ctx, sessions[0].ID)
	if err != nil || len(full.Targets["a"]) < 2 {
		t.Fatalf("session=%+v err=%v", full, err)
	}

	view, err := c.SelectView(ctx, ViewRequest{SessionID: full.ID, TargetID: "b"})
	if err != nil || view.SessionID != full.ID || view.TargetID != "b" {
		t.Fatalf("view=%+v err=%v", view, err)
	}
	scores, err := c.Scores(ctx)
	if err != nil || len(scores.Scores) != 3 || scores.Summary.Total < 2 {
		t.Fatalf("scores=%+v err=%v", scores, err)
	}

	var buf bytes.Buffer
	if err := c.Export(ctx, full.ID, "csv", &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "session_id,target_id,") {
		t.Fatalf("csv=%q", buf.String())
	}
	if err := c.Export(ctx, "missing", "csv", &buf); err == nil {
		t.Fatalf("expected export error")
	}

	if err := c.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	state, err := c.State(ctx)
	if err != nil || state.Sessions != 0 || state.View.SessionID != "" {
		t.Fatalf("state=%+v err=%v", state, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}
