package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/daemon"
	"github.com/theirongolddev/burnwatch/internal/metrics"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/monitor"
	"github.com/theirongolddev/burnwatch/internal/notifier"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
)

var (
	flagDaemonAddr         string
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonNoMonitor    bool
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the realtime engine with HTTP/SSE endpoints",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(pipeline.CacheDir(), "burnwatchd.pid")
	defaultLog := filepath.Join(pipeline.CacheDir(), "burnwatchd.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "", "HTTP listen address (default from config)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (default from config)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonNoMonitor, "no-monitor", false, "Do not tail the log store; accept entries over HTTP only")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func daemonAddr() string {
	if flagDaemonAddr != "" {
		return flagDaemonAddr
	}
	return cfg.Daemon.Addr
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}
	if flagDaemonDetach {
		return startDaemonDetached()
	}
	return runDaemonForeground()
}

func startDaemonDetached() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	child := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	child.Stdout = logf
	child.Stderr = logf
	child.Env = append(os.Environ(), "BURNWATCH_LOG_FORMAT=json")

	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", child.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagDaemonPIDFile)
	fmt.Printf("  API: http://%s/v1/status\n", daemonAddr())
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	pid := os.Getpid()
	if err := writePID(flagDaemonPIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonPIDFile) }()

	addr := daemonAddr()
	claudeDir := cfg.ClaudeDir()
	_ = writeState(statePath(flagDaemonPIDFile), daemonRuntimeState{
		PID:       pid,
		Addr:      addr,
		StartedAt: time.Now(),
		ClaudeDir: claudeDir,
		Window:    cfg.Blocks.Window.String(),
	})
	defer func() { _ = os.Remove(statePath(flagDaemonPIDFile)) }()

	m := metrics.New()
	eng := newEngine(m)
	mon := monitor.New(claudeDir, eng, monitor.Options{
		RescanInterval:   cfg.Monitor.RescanInterval,
		Backfill:         cfg.Monitor.Backfill,
		IncludeSubagents: cfg.General.IncludeSubagents,
		Logger:           log,
	})

	var observers []func(model.RealtimeStats)
	if alerter, err := newAlerter(m); err != nil {
		log.Warn().Err(err).Msg("alerts disabled")
	} else if alerter != nil {
		observers = append(observers, alerter.Observe)
	}

	events := cfg.Daemon.EventsBuffer
	if flagDaemonEventsBuffer > 0 {
		events = flagDaemonEventsBuffer
	}

	svc := daemon.New(daemon.Config{
		ClaudeDir:        claudeDir,
		Days:             flagDays,
		IncludeSubagents: cfg.General.IncludeSubagents,
		UseCache:         !flagNoCache,
		StartMonitor:     !flagDaemonNoMonitor,
		Addr:             addr,
		EventsBuffer:     events,
	}, daemon.Deps{
		Engine:     eng,
		Monitor:    mon,
		Summarizer: newSummarizer(),
		Observers:  observers,
		Gatherer:   prometheus.DefaultGatherer,
		Logger:     log,
	})

	fmt.Printf("  burnwatch daemon listening on http://%s\n", addr)
	fmt.Printf("  Watching %s (%s blocks)\n", claudeDir, cfg.Blocks.Window)
	fmt.Printf("  Stop with: burnwatch daemon stop --pid-file %s\n", flagDaemonPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newAlerter returns nil when no webhook is configured.
func newAlerter(m *metrics.Collector) (*notifier.Alerter, error) {
	if cfg.Alerts.DiscordWebhookURL == "" {
		return nil, nil
	}
	minLevel, err := model.ParseLevel(cfg.Alerts.MinLevel)
	if err != nil {
		return nil, err
	}
	n, err := notifier.NewDiscordNotifier(cfg.Alerts.DiscordWebhookURL)
	if err != nil {
		return nil, err
	}
	return notifier.NewAlerter(n, minLevel, log, m), nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		fmt.Printf("  Daemon: not running (pid file not found)\n")
		return nil
	}
	if !processAlive(pid) {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := daemonAddr()
	if st, err := readState(statePath(flagDaemonPIDFile)); err == nil && st.Addr != "" {
		addr = st.Addr
	}

	fmt.Printf("  Daemon PID: %d\n", pid)
	fmt.Printf("  Address: http://%s\n", addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/status") //nolint:noctx // short status probe
	if err != nil {
		fmt.Printf("  API status: unreachable (%v)\n", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("  API status: HTTP %d\n", resp.StatusCode)
		return nil
	}

	var st daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Printf("  API status: malformed response (%v)\n", err)
		return nil
	}

	if st.LastUpdateAt.IsZero() {
		fmt.Printf("  Last update: pending\n")
	} else {
		fmt.Printf("  Last update: %s\n", st.LastUpdateAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("  Updates: %d\n", st.UpdateCount)
	fmt.Printf("  Monitor: running=%v files=%d lines=%d\n",
		st.Monitor.Running, st.Monitor.TrackedFiles, st.Monitor.LinesRead)
	fmt.Printf("  Active blocks: %d\n", st.Summary.ActiveBlocks)
	fmt.Printf("  Burn rate: %.0f tokens/min (%s)\n", st.Summary.TokensPerMinute, st.Summary.MaxLevel)
	fmt.Printf("  Cost: $%.2f\n", st.Summary.CostUSD)
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", st.LastError)
	}
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(flagDaemonPIDFile)
			_ = os.Remove(statePath(flagDaemonPIDFile))
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}
