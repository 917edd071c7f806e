package probe

import (
	"context"
	"net/http/httptrace"
	"sync"
	"time"
)

// TimingEntry is the network timing of one completed request.
// RequestStart is zero when the request-written instant was not observed.
type TimingEntry struct {
	RequestStart  time.Time
	ResponseStart time.Time
	Duration      time.Duration
}

// TimingSource records per-request timing keyed by the exact request URL.
type TimingSource interface {
	// Observe returns trace hooks that feed the entry for name.
	Observe(name string) *httptrace.ClientTrace
	// Lookup waits until the entry for name is complete or ctx is done, and
	// removes it.
	Lookup(ctx context.Context, name string) (TimingEntry, bool)
	// Forget drops a pending entry.
	Forget(name string)
}

type pendingTiming struct {
	mu    sync.Mutex
	start time.Time
	entry TimingEntry
	done  chan struct{}
	once  sync.Once
}

// TraceRecorder is a TimingSource built on net/http/httptrace.
type TraceRecorder struct {
	mu      sync.Mutex
	pending map[string]*pendingTiming
	now     func() time.Time
}

// NewTraceRecorder returns an empty recorder.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{pending: map[string]*pendingTiming{}, now: time.Now}
}

func (r *TraceRecorder) Observe(name string) *httptrace.ClientTrace {
	p := &pendingTiming{done: make(chan struct{})}
	r.mu.Lock()
	r.pending[name] = p
	r.mu.Unlock()

	return &httptrace.ClientTrace{
		GetConn: func(string) {
			p.mu.Lock()
			if p.start.IsZero() {
				p.start = r.now()
			}
			p.mu.Unlock()
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				return
			}
			p.mu.Lock()
			p.entry.RequestStart = r.now()
			p.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			p.mu.Lock()
			p.entry.ResponseStart = r.now()
			if !p.start.IsZero() {
				p.entry.Duration = p.entry.ResponseStart.Sub(p.start)
			}
			p.mu.Unlock()
			p.once.Do(func() { close(p.done) })
		},
	}
}

func (r *TraceRecorder) Lookup(ctx context.Context, name string) (TimingEntry, bool) {
	r.mu.Lock()
	p, ok := r.pending[name]
	r.mu.Unlock()
	if !ok {
		return TimingEntry{}, false
	}
	defer r.Forget(name)

	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.entry, true
	case <-ctx.Done():
		return TimingEntry{}, false
	}
}

func (r *TraceRecorder) Forget(name string) {
	r.mu.Lock()
	delete(r.pending, name)
	r.mu.Unlock()
}

// Pending reports how many entries are tracked.
func (r *TraceRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
