package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"netsentinel/internal/api"
	"netsentinel/internal/config"
	"netsentinel/internal/kvstore"
	"netsentinel/internal/metrics"
	"netsentinel/internal/model"
	"netsentinel/internal/probe"
	"netsentinel/internal/quality"
	"netsentinel/internal/sampler"
	"netsentinel/internal/store"
)

const usage = `netsentinel - network quality monitor

Usage:
  netsentinel run [--config <path>] [--duration 1m] [--out <file.csv>]
  netsentinel serve [--config <path>] [--listen addr] [--record]
  netsentinel sessions list [--config <path>]
  netsentinel sessions show --id <session> [--config <path>]
  netsentinel export csv|json --id <session> --out <file> [--config <path>]
  netsentinel clear [--config <path>]
  netsentinel report --in <file.csv>
  netsentinel config init --config <path>
  netsentinel ctl start|stop|status|sessions|scores [--addr host:port]
  netsentinel ctl view [--session <id>] [--target <id>] [--addr host:port]

Offline commands (sessions, export, clear) read the data dir directly; use ctl
while serve is running.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "run":
		handleRun(os.Args[2:])
	case "serve":
		handleServe(os.Args[2:])
	case "sessions":
		handleSessions(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	case "clear":
		handleClear(os.Args[2:])
	case "report":
		handleReport(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	case "ctl":
		handleCtl(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	duration := fs.Duration("duration", 0, "stop after this long (default: until interrupted)")
	interval := fs.Duration("interval", 0, "sampling interval override")
	dataDir := fs.String("data-dir", "", "data directory override")
	out := fs.String("out", "", "write the session as CSV to this file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	override(&cfg, *interval, *dataDir, "")
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	st := openStore(cfg)
	smp := newSampler(cfg, st)

	ctx, cancel := signalContext()
	defer cancel()
	if *duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *duration)
		defer stop()
	}

	smp.Start(ctx)
	<-ctx.Done()
	session, ok := smp.Stop()
	smp.Wait()
	if !ok {
		fatal(errors.New("recording was not active"))
	}

	printSession(os.Stdout, session, cfg.Targets)
	if *out != "" {
		if err := writeFile(*out, func(w io.Writer) error { return metrics.WriteCSV(w, session) }); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "exported %s\n", *out)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address override")
	dataDir := fs.String("data-dir", "", "data directory override")
	record := fs.Bool("record", false, "start recording immediately")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	override(&cfg, 0, *dataDir, *listen)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	st := openStore(cfg)
	smp := newSampler(cfg, st)

	ctx, cancel := signalContext()
	defer cancel()
	if *record {
		smp.Start(ctx)
	}

	srv := api.NewServer(cfg.Listen, st, smp)
	err = srv.ListenAndServe(ctx)
	if _, ok := smp.Stop(); ok {
		fmt.Fprintln(os.Stdout, "recording saved")
	}
	smp.Wait()
	fatal(err)
}

func handleSessions(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "sessions subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "list":
		sessionsList(args[1:])
	case "show":
		sessionsShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown sessions subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func sessionsList(args []string) {
	fs := flag.NewFlagSet("sessions list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	history := openStore(cfg).History()
	if len(history) == 0 {
		fmt.Fprintln(os.Stdout, "no sessions")
		return
	}
	printSessionList(os.Stdout, history, cfg.Targets)
}

func sessionsShow(args []string) {
	fs := flag.NewFlagSet("sessions show", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	id := fs.String("id", "", "session id")
	_ = fs.Parse(args)

	if *id == "" {
		fatal(errors.New("--id is required"))
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	session, ok := openStore(cfg).Session(*id)
	if !ok {
		fatal(fmt.Errorf("session %s: %w", *id, store.ErrUnknownSession))
	}
	printSession(os.Stdout, session, cfg.Targets)
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export format required\n")
		os.Exit(2)
	}
	format := args[0]
	if format != "csv" && format != "json" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", format)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export "+format, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	id := fs.String("id", "", "session id (default: most recent)")
	out := fs.String("out", "", "output file")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	st := openStore(cfg)
	sessionID := *id
	if sessionID == "" {
		history := st.History()
		if len(history) == 0 {
			fatal(errors.New("no sessions to export"))
		}
		sessionID = history[0].ID
	}
	session, ok := st.Session(sessionID)
	if !ok {
		fatal(fmt.Errorf("session %s: %w", sessionID, store.ErrUnknownSession))
	}

	err = writeFile(*out, func(w io.Writer) error {
		if format == "csv" {
			return metrics.WriteCSV(w, session)
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(session)
	})
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "exported %s\n", *out)
}

func handleClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := openStore(cfg).ClearHistory(); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "history cleared")
}

func handleReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "CSV export to analyze")
	incidents := fs.Int("incidents", 10, "number of recent incidents to list per target")
	_ = fs.Parse(args)

	if *in == "" {
		fatal(errors.New("--in is required"))
	}
	export, err := metrics.ReadCSV(*in)
	if err != nil {
		fatal(err)
	}
	if len(export.Targets) == 0 {
		fmt.Fprintln(os.Stdout, "no samples")
		return
	}

	fmt.Fprintf(os.Stdout, "session=%s\n", export.SessionID)
	for _, id := range sortedKeys(export.Targets) {
		samples := export.Targets[id]
		fmt.Fprintf(os.Stdout, "\n[%s]\n", id)
		printSummary(os.Stdout, metrics.Summarize(samples))
		printScores(os.Stdout, quality.Scores(samples))
		printIncidents(os.Stdout, samples, *incidents)
	}
}

func handleConfig(args []string) {
	if len(args) == 0 || args[0] != "init" {
		fmt.Fprint(os.Stderr, "config init required\n")
		os.Exit(2)
	}
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to write")
	_ = fs.Parse(args[1:])

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if err := config.Save(*configPath, config.Default()); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
}

func handleCtl(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "ctl subcommand required\n")
		os.Exit(2)
	}
	sub := args[0]
	fs := flag.NewFlagSet("ctl "+sub, flag.ExitOnError)
	addr := fs.String("addr", config.DefaultListen, "server address")
	sessionID := fs.String("session", "", "session id for view (empty for live)")
	targetID := fs.String("target", "", "target id for view")
	_ = fs.Parse(args[1:])

	client := api.NewClient(normalizeBaseURL(*addr))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch sub {
	case "start", "stop":
		resp, err := client.SetRecording(ctx, sub == "start")
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "running=%v changed=%v\n", resp.Running, resp.Changed)
		if resp.Session != nil {
			printSession(os.Stdout, *resp.Session, nil)
		}
	case "status":
		state, err := client.State(ctx)
		if err != nil {
			fatal(err)
		}
		view := "live"
		if !state.View.Live() {
			view = state.View.SessionID
		}
		fmt.Fprintf(os.Stdout, "running=%v epoch=%s view=%s target=%s sessions=%d\n",
			state.Running, state.EpochID, view, state.View.TargetID, state.Sessions)
		for _, t := range state.Targets {
			fmt.Fprintf(os.Stdout, "  %-12s  %-16s  %s\n", t.ID, t.Name, t.URL)
		}
	case "sessions":
		infos, err := client.Sessions(ctx)
		if err != nil {
			fatal(err)
		}
		if len(infos) == 0 {
			fmt.Fprintln(os.Stdout, "no sessions")
			return
		}
		for _, info := range infos {
			fmt.Fprintf(os.Stdout, "%-10s  %-14s  %s  %s\n", info.ID, info.Name,
				info.StartTime.Local().Format(time.RFC3339), info.EndTime.Sub(info.StartTime).Round(time.Second))
		}
	case "view":
		view, err := client.SelectView(ctx, api.ViewRequest{SessionID: *sessionID, TargetID: *targetID})
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "view session=%q target=%s\n", view.SessionID, view.TargetID)
	case "scores":
		resp, err := client.Scores(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "target=%s session=%q\n", resp.View.TargetID, resp.View.SessionID)
		printSummary(os.Stdout, resp.Summary)
		printScores(os.Stdout, resp.Scores)
	default:
		fmt.Fprintf(os.Stderr, "unknown ctl subcommand %q\n", sub)
		os.Exit(2)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func override(cfg *config.Config, interval time.Duration, dataDir, listen string) {
	if interval != 0 {
		cfg.Interval = interval
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
}

func openStore(cfg config.Config) *store.Store {
	kv := kvstore.NewFile(cfg.DataDir)
	return store.New(cfg.Targets, store.WithPersistence(kv, cfg.HistoryKey))
}

func newSampler(cfg config.Config, st *store.Store) *sampler.Sampler {
	prober := probe.Mux{
		HTTP: probe.NewHTTPProber(probe.HTTPOptions{
			Method:     cfg.Method,
			Timeout:    cfg.ProbeTimeout,
			TimingWait: cfg.TimingWait,
		}),
		STUN: probe.STUNProber{Timeout: cfg.ProbeTimeout},
	}
	return sampler.New(st, prober, sampler.Options{
		Interval:     cfg.Interval,
		ProbeTimeout: cfg.ProbeTimeout,
	})
}

func printSessionList(w io.Writer, history []model.Session, targets []model.Target) {
	fmt.Fprintf(w, "%-10s  %-14s  %-20s  %-8s", "ID", "NAME", "START", "LENGTH")
	for _, t := range targets {
		fmt.Fprintf(w, "  %-12s", strings.ToUpper(t.ID))
	}
	fmt.Fprintln(w)
	for _, s := range history {
		fmt.Fprintf(w, "%-10s  %-14s  %-20s  %-8s", s.ID, s.Name,
			s.StartTime.Local().Format(time.RFC3339), s.EndTime.Sub(s.StartTime).Round(time.Second))
		for _, t := range targets {
			sum := s.Summary[t.ID]
			fmt.Fprintf(w, "  %-12s", fmt.Sprintf("%dms/%.0f%%", sum.AvgLatencyMs, sum.ReliabilityPct))
		}
		fmt.Fprintln(w)
	}
}

func printSession(w io.Writer, s model.Session, targets []model.Target) {
	fmt.Fprintf(w, "session=%s name=%q start=%s end=%s\n", s.ID, s.Name,
		s.StartTime.Local().Format(time.RFC3339), s.EndTime.Local().Format(time.RFC3339))

	names := map[string]string{}
	for _, t := range targets {
		names[t.ID] = t.Name
	}
	for _, id := range sortedKeys(s.Targets) {
		label := id
		if name := names[id]; name != "" && name != id {
			label = id + " (" + name + ")"
		}
		fmt.Fprintf(w, "\n[%s]\n", label)
		printSummary(w, s.Summary[id])
		printScores(w, quality.Scores(s.Targets[id]))
	}
}

func printSummary(w io.Writer, sum model.TargetSummary) {
	fmt.Fprintf(w, "samples=%d valid=%d bad=%d reliability=%.1f%%\n", sum.Total, sum.Valid, sum.Bad, sum.ReliabilityPct)
	fmt.Fprintf(w, "latency avg=%dms p95=%dms min=%dms max=%dms jitter avg=%dms max=%dms\n",
		sum.AvgLatencyMs, sum.P95LatencyMs, sum.MinLatencyMs, sum.MaxLatencyMs, sum.AvgJitterMs, sum.MaxJitterMs)
}

func printScores(w io.Writer, scores []quality.ProfileScore) {
	for _, sc := range scores {
		fmt.Fprintf(w, "%-10s  recent=%3.0f%%  total=%3.0f%%\n", sc.Profile.Name, sc.Recent, sc.Total)
	}
}

func printIncidents(w io.Writer, samples []model.Sample, limit int) {
	var rows []model.Sample
	for i := len(samples) - 1; i >= 0 && len(rows) < limit; i-- {
		if quality.Incident(samples[i]) != "OK" {
			rows = append(rows, samples[i])
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no incidents")
		return
	}
	for _, s := range rows {
		latency := "-"
		if s.Success {
			latency = fmt.Sprintf("%dms", s.LatencyMs)
		}
		fmt.Fprintf(w, "%s  %-8s  %-9s  %s\n", s.Timestamp.Local().Format("15:04:05"), quality.Incident(s), quality.Status(s), latency)
	}
}

func sortedKeys(m map[string][]model.Sample) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func normalizeBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
