package store

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"netsentinel/internal/ident"
	"netsentinel/internal/kvstore"
	"netsentinel/internal/metrics"
	"netsentinel/internal/model"
)

// DefaultHistoryKey namespaces the persisted session history.
const DefaultHistoryKey = "netsentinel/history"

var (
	// ErrRecording rejects operations that are not allowed during a recording.
	ErrRecording = errors.New("recording in progress")
	// ErrUnknownSession is returned when a session id is not in history.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownTarget is returned when a target id is not configured.
	ErrUnknownTarget = errors.New("unknown target")
)

// Store holds recording state, live buffers, session history and the view
// selector. All mutations are serialized by one mutex.
type Store struct {
	mu      sync.Mutex
	targets []model.Target
	known   map[string]bool

	running bool
	epoch   string
	live    map[string][]model.Sample
	history []model.Session
	view    model.View

	kv  kvstore.Store
	key string
	now func() time.Time

	subs map[chan Event]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence loads history from kv at construction and writes it back
// after every history change.
func WithPersistence(kv kvstore.Store, key string) Option {
	return func(s *Store) {
		if key == "" {
			key = DefaultHistoryKey
		}
		s.kv = kv
		s.key = key
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs a store for a fixed target set.
func New(targets []model.Target, opts ...Option) *Store {
	s := &Store{
		targets: append([]model.Target(nil), targets...),
		known:   make(map[string]bool, len(targets)),
		now:     time.Now,
		subs:    make(map[chan Event]struct{}),
	}
	for _, t := range targets {
		s.known[t.ID] = true
	}
	if len(targets) > 0 {
		s.view.TargetID = targets[0].ID
	}
	s.live = s.emptyBuffers()
	for _, opt := range opts {
		opt(s)
	}
	s.history = s.loadHistory()
	return s
}

// Targets returns the configured targets.
func (s *Store) Targets() []model.Target {
	return append([]model.Target(nil), s.targets...)
}

// Running reports whether a recording is active.
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Epoch returns the current recording id, or "" when idle.
func (s *Store) Epoch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// SetRunning drives the Idle/Recording transitions. It reports whether a
// transition happened; repeated calls with the same value are no-ops.
func (s *Store) SetRunning(running bool) bool {
	if running {
		_, ok := s.Start()
		return ok
	}
	_, ok := s.Stop()
	return ok
}

// Start enters Recording: new epoch, empty buffers, view forced to live.
func (s *Store) Start() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.epoch, false
	}
	s.running = true
	s.epoch = ident.SessionID()
	s.live = s.emptyBuffers()
	s.view.SessionID = ""
	s.publishLocked(Event{Kind: EventStarted, EpochID: s.epoch, At: s.now()})
	return s.epoch, true
}

// Stop leaves Recording, freezing the live buffers into a new session at the
// head of history.
func (s *Store) Stop() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Store) stopLocked() (model.Session, bool) {
	if !s.running {
		return model.Session{}, false
	}

	session := metrics.Materialize(s.epoch, s.targetIDs(), s.live, s.now())
	s.history = append([]model.Session{session}, s.history...)
	s.running = false
	s.epoch = ""
	s.live = s.emptyBuffers()
	s.persistLocked()
	s.publishLocked(Event{Kind: EventStopped, EpochID: session.ID, SessionID: session.ID, At: session.EndTime})
	return session, true
}

// AppendSample records a probe outcome issued under epoch. Outcomes from a
// stale epoch, for unknown targets, or while idle are dropped.
func (s *Store) AppendSample(epoch, targetID string, res model.ProbeResult) (model.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || epoch != s.epoch || !s.known[targetID] {
		return model.Sample{}, false
	}

	buf := s.live[targetID]
	var prev *model.Sample
	if len(buf) > 0 {
		prev = &buf[len(buf)-1]
	}

	sample := model.Sample{
		ID:        ident.SampleID(),
		Timestamp: s.now(),
		Success:   res.Success,
	}
	if res.Success {
		sample.LatencyMs = res.LatencyMs
		sample.JitterMs = metrics.Jitter(res, prev)
	}
	s.live[targetID] = append(buf, sample)

	cp := sample
	s.publishLocked(Event{Kind: EventSample, EpochID: epoch, TargetID: targetID, Sample: &cp, At: sample.Timestamp})
	return sample, true
}

// SelectView points consumers at a session (or live data when sessionID is
// empty) and a target. Selecting a session stops an active recording. An empty
// targetID keeps the current target.
func (s *Store) SelectView(sessionID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetID != "" && !s.known[targetID] {
		return ErrUnknownTarget
	}
	if sessionID != "" && s.findLocked(sessionID) < 0 {
		return ErrUnknownSession
	}

	if sessionID != "" && s.running {
		s.stopLocked()
	}
	s.view.SessionID = sessionID
	if targetID != "" {
		s.view.TargetID = targetID
	}
	s.publishLocked(Event{Kind: EventView, SessionID: sessionID, TargetID: s.view.TargetID, At: s.now()})
	return nil
}

// View returns the current selector.
func (s *Store) View() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// ClearHistory drops all sessions. It is rejected while recording.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRecording
	}
	s.history = nil
	s.view.SessionID = ""
	s.persistLocked()
	s.publishLocked(Event{Kind: EventCleared, At: s.now()})
	return nil
}

// Live returns a copy of the live buffers.
func (s *Store) Live() map[string][]model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSamples(s.live)
}

// History returns sessions, most recent first.
func (s *Store) History() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Session(nil), s.history...)
}

// Session looks up a session by id.
func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findLocked(id)
	if i < 0 {
		return model.Session{}, false
	}
	return s.history[i], true
}

// Dataset returns the samples selected by the view: the viewed target within
// the viewed session, or its live buffer.
func (s *Store) Dataset() []model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.live[s.view.TargetID]
	if s.view.SessionID != "" {
		if i := s.findLocked(s.view.SessionID); i >= 0 {
			src = s.history[i].Targets[s.view.TargetID]
		}
	}
	return append([]model.Sample(nil), src...)
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Snapshot{
		Running: s.running,
		EpochID: s.epoch,
		View:    s.view,
		Targets: append([]model.Target(nil), s.targets...),
		Live:    model.CloneSamples(s.live),
		History: append([]model.Session(nil), s.history...),
	}
}

func (s *Store) findLocked(id string) int {
	for i := range s.history {
		if s.history[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) targetIDs() []string {
	ids := make([]string, 0, len(s.targets))
	for _, t := range s.targets {
		ids = append(ids, t.ID)
	}
	return ids
}

func (s *Store) emptyBuffers() map[string][]model.Sample {
	live := make(map[string][]model.Sample, len(s.targets))
	for _, t := range s.targets {
		live[t.ID] = []model.Sample{}
	}
	return live
}

func (s *Store) loadHistory() []model.Session {
	if s.kv == nil {
		return nil
	}
	data, err := s.kv.Get(s.key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Printf("history load failed key=%s: %v", s.key, err)
		}
		return nil
	}
	var history []model.Session
	if err := json.Unmarshal(data, &history); err != nil {
		log.Printf("history corrupt key=%s, starting empty: %v", s.key, err)
		return nil
	}
	return history
}

func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}
	history := s.history
	if history == nil {
		history = []model.Session{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		log.Printf("history encode failed: %v", err)
		return
	}
	if err := s.kv.Set(s.key, data); err != nil {
		log.Printf("history save failed key=%s: %v", s.key, err)
	}
}
