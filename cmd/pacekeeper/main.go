package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"pacekeeper/internal/app"
	"pacekeeper/internal/executor"
)

func main() {
	var (
		cfgPath string
		submit  string
		urgent  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&submit, "submit", "", "comma-separated work keys to enqueue at startup")
	flag.BoolVar(&urgent, "urgent", false, "mark startup submissions urgent")
	flag.Parse()

	// A missing config at the default path means "run on built-in
	// defaults"; an explicitly named file must exist.
	if _, err := os.Stat(cfgPath); err != nil {
		explicit := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == "config" {
				explicit = true
			}
		})
		if explicit {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		cfgPath = ""
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	// Default executor; a real work layer replaces it via the coordinator.
	a.Coordinator().RegisterExecutor(executor.DryRun(ctx, a.Queue(), a.Logger()))

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	if submit != "" {
		keys := strings.Split(submit, ",")
		res := a.Coordinator().Submit(ctx, keys, urgent, "cli")
		fmt.Printf("submitted: added=%d already_queued=%d failed=%d\n",
			len(res.Added), len(res.AlreadyQueued), len(res.Failed))
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	stopWatchdog := startWatchdog(ctx)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	stopWatchdog()

	reason := app.StopSIGTERM
	if a.Err() != nil {
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if a.Err() != nil {
		fmt.Fprintln(os.Stderr, "exited with error:", a.Err())
		os.Exit(1)
	}
}

// startWatchdog pings systemd's watchdog at half the configured interval.
// Returns a stop function; a no-op when the watchdog is not enabled.
func startWatchdog(ctx context.Context) func() {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
			}
		}
	}()
	return func() { close(done) }
}
