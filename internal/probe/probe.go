package probe

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"netsentinel/internal/model"
	"netsentinel/internal/stunutil"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultTimingWait = 250 * time.Millisecond

	// cacheBuster is the query parameter that makes every probe URL unique.
	cacheBuster = "t"
	maxDrain    = 64 << 10
)

// Prober performs one round trip against a target.
type Prober interface {
	Probe(ctx context.Context, target model.Target) model.ProbeResult
}

// HTTPOptions configures an HTTPProber.
type HTTPOptions struct {
	Method     string
	Timeout    time.Duration
	TimingWait time.Duration
	Timing     TimingSource
	Transport  http.RoundTripper
}

// HTTPProber measures latency with a cache-busted HTTP request.
type HTTPProber struct {
	client     *http.Client
	method     string
	timing     TimingSource
	timingWait time.Duration
	now        func() time.Time
	seq        atomic.Uint64
}

// NewHTTPProber builds a prober. HEAD is used unless Method is GET.
func NewHTTPProber(opts HTTPOptions) *HTTPProber {
	method := http.MethodHead
	if strings.EqualFold(opts.Method, http.MethodGet) {
		method = http.MethodGet
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wait := opts.TimingWait
	if wait <= 0 {
		wait = DefaultTimingWait
	}
	timing := opts.Timing
	if timing == nil {
		timing = NewTraceRecorder()
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		method:     method,
		timing:     timing,
		timingWait: wait,
		now:        time.Now,
	}
}

// Probe never returns an error: transport failures are reported as an
// unsuccessful result. Any HTTP status completes the round trip.
func (p *HTTPProber) Probe(ctx context.Context, target model.Target) model.ProbeResult {
	name, err := UniqueURL(target.URL, p.now(), p.seq.Add(1))
	if err != nil {
		return model.ProbeResult{}
	}

	trace := p.timing.Observe(name)
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), p.method, name, nil)
	if err != nil {
		p.timing.Forget(name)
		return model.ProbeResult{}
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.timing.Forget(name)
		return model.ProbeResult{}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()
	coarse := time.Since(start)

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timingWait)
	defer cancel()
	entry, found := p.timing.Lookup(lookupCtx, name)

	return model.ProbeResult{Success: true, LatencyMs: Latency(entry, found, coarse)}
}

// Latency picks the most precise measurement available: request-sent to
// first byte, then the timing record's total duration, then the coarse
// wall-clock delta. The result is at least 1ms.
func Latency(entry TimingEntry, found bool, coarse time.Duration) int {
	d := coarse
	if found {
		if !entry.RequestStart.IsZero() && !entry.ResponseStart.IsZero() {
			d = entry.ResponseStart.Sub(entry.RequestStart)
		} else {
			d = entry.Duration
		}
	}
	ms := int(math.Round(float64(d) / float64(time.Millisecond)))
	if ms < 1 {
		ms = 1
	}
	return ms
}

// UniqueURL appends the cache-busting parameter keyed by now and seq. seq
// keeps names distinct when the clock does not advance between calls.
func UniqueURL(raw string, now time.Time, seq uint64) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(cacheBuster, strconv.FormatInt(now.UnixNano(), 10)+"-"+strconv.FormatUint(seq, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// STUNProber measures a STUN binding transaction round trip.
type STUNProber struct {
	Timeout time.Duration
}

func (p STUNProber) Probe(ctx context.Context, target model.Target) model.ProbeResult {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rtt, _, err := stunutil.RTT(ctx, target.URL, timeout)
	if err != nil {
		return model.ProbeResult{}
	}
	return model.ProbeResult{Success: true, LatencyMs: Latency(TimingEntry{}, false, rtt)}
}

// Mux dispatches stun: targets to STUN and everything else to HTTP.
type Mux struct {
	HTTP Prober
	STUN Prober
}

func (m Mux) Probe(ctx context.Context, target model.Target) model.ProbeResult {
	if IsSTUN(target.URL) {
		if m.STUN == nil {
			return model.ProbeResult{}
		}
		return m.STUN.Probe(ctx, target)
	}
	if m.HTTP == nil {
		return model.ProbeResult{}
	}
	return m.HTTP.Probe(ctx, target)
}

// IsSTUN reports whether a target URL uses the stun: or stuns: scheme.
func IsSTUN(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(s, "stun:") || strings.HasPrefix(s, "stuns:")
}
