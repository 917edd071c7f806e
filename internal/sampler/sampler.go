package sampler

import (
	"context"
	"log"
	"sync"
	"time"

	"netsentinel/internal/model"
	"netsentinel/internal/probe"
	"netsentinel/internal/store"
	"netsentinel/internal/telemetry"
)

const (
	DefaultInterval = time.Second
	// MaxInterval bounds the tick period; cadence must stay sub-2-second.
	MaxInterval = 2 * time.Second
)

// Options configures a Sampler.
type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Sampler owns the recording timer. Each tick probes every target in its own
// goroutine and appends the outcome to the store as soon as it completes.
type Sampler struct {
	store   *store.Store
	prober  probe.Prober
	targets []model.Target

	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	task     *Task
	inflight sync.WaitGroup
}

// New builds a sampler over the store's targets.
func New(st *store.Store, prober probe.Prober, opts Options) *Sampler {
	interval := opts.Interval
	if interval <= 0 || interval >= MaxInterval {
		interval = DefaultInterval
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	return &Sampler{
		store:    st,
		prober:   prober,
		targets:  st.Targets(),
		interval: interval,
		timeout:  timeout,
	}
}

// Interval returns the effective tick period.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Start begins a recording. It is a no-op if one is already active. ctx bounds
// the lifetime of the timer and of in-flight probes.
func (s *Sampler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, unsubscribe := s.store.Subscribe(256)
	epoch, started := s.store.Start()
	if !started {
		unsubscribe()
		return false
	}

	telemetry.SetRecording(true)
	log.Printf("recording started epoch=%s targets=%d interval=%s", epoch, len(s.targets), s.interval)

	task := Every(ctx, s.interval, func() bool {
		return s.tick(ctx, epoch)
	})
	s.task = task
	go s.watch(epoch, task, events, unsubscribe)
	return true
}

// Stop cancels future ticks and freezes the recording into a session. Probes
// already in flight are not cancelled; the store discards their results.
func (s *Sampler) Stop() (model.Session, bool) {
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.mu.Unlock()

	if task != nil {
		task.Stop()
	}
	return s.store.Stop()
}

// Running reports whether the store is recording.
func (s *Sampler) Running() bool { return s.store.Running() }

// Wait blocks until every in-flight probe has completed.
func (s *Sampler) Wait() { s.inflight.Wait() }

func (s *Sampler) tick(ctx context.Context, epoch string) bool {
	if s.store.Epoch() != epoch {
		return false
	}
	for _, target := range s.targets {
		s.inflight.Add(1)
		go s.probeOne(ctx, epoch, target)
	}
	return true
}

func (s *Sampler) probeOne(ctx context.Context, epoch string, target model.Target) {
	defer s.inflight.Done()

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.prober.Probe(pctx, target)
	if ctx.Err() != nil {
		// Cut short by shutdown, not by the network.
		telemetry.ObserveDropped(target.ID)
		return
	}
	sample, ok := s.store.AppendSample(epoch, target.ID, res)
	if !ok {
		telemetry.ObserveDropped(target.ID)
		return
	}
	telemetry.ObserveSample(target.ID, sample)
}

// watch ends the timer when the recording stops for any reason, including a
// historical session being selected. Store events can be dropped when the
// subscription buffer is full, so once the timer is done the epoch is also
// polled at tick cadence.
func (s *Sampler) watch(epoch string, task *Task, events <-chan store.Event, unsubscribe func()) {
	defer unsubscribe()
	done := task.Done()
	var poll <-chan time.Time
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.Kind != store.EventStopped || ev.EpochID != epoch {
				continue
			}
			s.finish(task, ev.SessionID)
			return
		case <-done:
			done = nil
			if s.store.Epoch() != epoch {
				s.finish(task, epoch)
				return
			}
			// The timer can end with its context while the recording stays
			// open; keep waiting for the stop.
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			poll = ticker.C
		case <-poll:
			if s.store.Epoch() != epoch {
				s.finish(task, epoch)
				return
			}
		}
	}
}

func (s *Sampler) finish(task *Task, sessionID string) {
	task.Stop()
	s.mu.Lock()
	if s.task == task {
		s.task = nil
	}
	s.mu.Unlock()
	telemetry.SetRecording(false)
	telemetry.SessionsTotal.Inc()
	log.Printf("recording stopped session=%s", sessionID)
}
