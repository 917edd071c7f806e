package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netsentinel/internal/model"
	"netsentinel/internal/store"
)

type countingProber struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
}

func (p *countingProber) Probe(ctx context.Context, target model.Target) model.ProbeResult {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[target.ID]++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return model.ProbeResult{}
		}
	}
	return model.ProbeResult{Success: true, LatencyMs: 20}
}

func (p *countingProber) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func targets() []model.Target {
	return []model.Target{{ID: "a", URL: "https://a.example"}, {ID: "b", URL: "https://b.example"}}
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

func TestEvery_StopsWhenFnReturnsFalse(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func() bool {
		return n.Add(1) < 3
	})
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish")
	}
	if got := n.Load(); got != 3 {
		t.Fatalf("calls=%d", got)
	}
	task.Stop()
}

func TestEvery_StopWaitsForLoop(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func() bool {
		n.Add(1)
		return true
	})
	time.Sleep(30 * time.Millisecond)
	task.Stop()
	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("ticks after stop")
	}
	task.Stop()
}

func TestNew_ClampsInterval(t *testing.T) {
	t.Parallel()

	st := store.New(targets())
	for _, d := range []time.Duration{0, -time.Second, 2 * time.Second, 5 * time.Second} {
		if got := New(st, &countingProber{}, Options{Interval: d}).Interval(); got != DefaultInterval {
			t.Fatalf("interval(%s)=%s", d, got)
		}
	}
	if got := New(st, &countingProber{}, Options{Interval: 250 * time.Millisecond}).Interval(); got != 250*time.Millisecond {
		t.Fatalf("interval=%s", got)
	}
}

func TestSampler_RecordsEveryTarget(t *testing.T) {
	t.Parallel()

	st := store.New(targets())
	p := &countingProber{}
	s := New(st, p, Options{Interval: 10 * time.Millisecond})

	if !s.Start(context.Background()) {
		t.Fatalf("start failed")
	}
	if s.Start(context.Background()) {
		t.Fatalf("second start reported a transition")
	}
	waitFor(t, func() bool {
		live := st.Live()
		return len(live["a"]) >= 3 && len(live["b"]) >= 3
	})

	session, ok := s.Stop()
	s.Wait()
	if !ok {
		t.Fatalf("stop failed")
	}
	if s.Running() {
		t.Fatalf("still running")
	}
	if len(session.Targets["a"]) < 3 || session.Summary["a"].ReliabilityPct != 100 {
		t.Fatalf("session=%+v", session.Summary)
	}

	calls := p.count("a")
	time.Sleep(50 * time.Millisecond)
	if p.count("a") != calls {
		t.Fatalf("probes issued after stop")
	}
}

func TestSampler_LateResultsAreDiscarded(t *testing.T) {
	t.Parallel()

	st := store.New(targets())
	p := &countingProber{delay: 80 * time.Millisecond}
	s := New(st, p, Options{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	waitFor(t, func() bool { return p.count("a") >= 1 })
	session, _ := s.Stop()
	s.Wait()

	if n := len(session.Targets["a"]); n != 0 {
		t.Fatalf("samples in frozen session=%d", n)
	}
	if n := len(st.Live()["a"]); n != 0 {
		t.Fatalf("late samples leaked into idle buffers=%d", n)
	}
	if got, _ := st.Session(session.ID); len(got.Targets["a"]) != 0 {
		t.Fatalf("history mutated by late result")
	}
}

func TestSampler_ViewSelectionStopsTimer(t *testing.T) {
	t.Parallel()

	st := store.New(targets())
	s := New(st, &countingProber{}, Options{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	waitFor(t, func() bool { return len(st.Live()["a"]) >= 1 })
	s.Stop()
	first := st.History()[0].ID

	p := &countingProber{}
	s = New(st, p, Options{Interval: 10 * time.Millisecond})
	s.Start(context.Background())
	waitFor(t, func() bool { return p.count("a") >= 1 })

	if err := st.SelectView(first, ""); err != nil {
		t.Fatalf("SelectView: %v", err)
	}
	if st.Running() {
		t.Fatalf("recording survived session selection")
	}
	waitFor(t, func() bool {
		calls := p.count("a")
		time.Sleep(40 * time.Millisecond)
		return p.count("a") == calls
	})
	s.Wait()
	if got := len(st.History()); got != 2 {
		t.Fatalf("history=%d", got)
	}
}

func TestSampler_ContextEndsTimer(t *testing.T) {
	t.Parallel()

	st := store.New(targets())
	p := &countingProber{}
	s := New(st, p, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitFor(t, func() bool { return p.count("a") >= 1 })
	cancel()
	time.Sleep(30 * time.Millisecond)
	s.Wait()

	calls := p.count("a")
	time.Sleep(50 * time.Millisecond)
	if p.count("a") != calls {
		t.Fatalf("timer survived context")
	}
	if !st.Running() {
		t.Fatalf("recording closed without stop")
	}
	if _, ok := s.Stop(); !ok {
		t.Fatalf("stop after cancel failed")
	}
}

type stallingProber struct {
	stall   string
	release chan struct{}
}

func (p *stallingProber) Probe(ctx context.Context, target model.Target) model.ProbeResult {
	if target.ID == p.stall {
		select {
		case <-p.release:
		case <-ctx.Done():
		}
		return model.ProbeResult{}
	}
	return model.ProbeResult{Success: true, LatencyMs: 15}
}

func TestSampler_StalledTargetDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	st := store.New(targets())
	p := &stallingProber{stall: "b", release: make(chan struct{})}
	s := New(st, p, Options{Interval: 10 * time.Millisecond, ProbeTimeout: 5 * time.Second})

	began := time.Now()
	s.Start(context.Background())
	waitFor(t, func() bool { return len(st.Live()["a"]) >= 5 })
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Fatalf("a collected 5 samples in %s", elapsed)
	}
	if n := len(st.Live()["b"]); n != 0 {
		t.Fatalf("b samples=%d", n)
	}

	session, _ := s.Stop()
	close(p.release)
	s.Wait()
	if len(session.Targets["a"]) < 5 || len(session.Targets["b"]) != 0 {
		t.Fatalf("a=%d b=%d", len(session.Targets["a"]), len(session.Targets["b"]))
	}
}

func TestWatch_EndsWithoutStopEvent(t *testing.T) {
	t.Parallel()

	for _, stopFirst := range []bool{true, false} {
		st := store.New(targets())
		s := New(st, &countingProber{}, Options{Interval: 10 * time.Millisecond})
		epoch, _ := st.Start()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		task := Every(ctx, s.interval, func() bool { return true })
		s.task = task
		if stopFirst {
			st.Stop()
		}

		returned := make(chan struct{})
		go func() {
			defer close(returned)
			s.watch(epoch, task, make(chan store.Event), func() {})
		}()
		if !stopFirst {
			<-task.Done()
			time.Sleep(30 * time.Millisecond)
			st.Stop()
		}

		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatalf("stopFirst=%v: watch still running", stopFirst)
		}
		s.mu.Lock()
		left := s.task
		s.mu.Unlock()
		if left != nil {
			t.Fatalf("stopFirst=%v: task not cleared", stopFirst)
		}
	}
}
