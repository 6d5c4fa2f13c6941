package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tracewright/internal/collector"
	"tracewright/internal/config"
	"tracewright/internal/coordinator"
	"tracewright/internal/core"
	"tracewright/internal/failure"
	"tracewright/internal/progress"
)

type runFlags struct {
	users           int
	concurrency     int
	duration        time.Duration
	output          string
	quiet           bool
	scenario        string
	failureAfter    time.Duration
	failureDuration time.Duration
}

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var rf runFlags
	fs.IntVar(&rf.users, "users", 0, "number of virtual users (overrides traffic.users)")
	fs.IntVar(&rf.concurrency, "concurrency", 0, "max users running at once (overrides traffic.concurrency)")
	fs.DurationVar(&rf.duration, "duration", 0, "stop users after this long (0 = when every journey ends)")
	fs.StringVar(&rf.output, "output", "text", "output format: text, json")
	fs.BoolVar(&rf.quiet, "quiet", false, "suppress progress output during the run")
	fs.StringVar(&rf.scenario, "failure", "", "failure scenario to inject during the run")
	fs.DurationVar(&rf.failureAfter, "failure-after", 0, "delay before the failure scenario starts")
	fs.DurationVar(&rf.failureDuration, "failure-duration", 30*time.Second, "how long the failure scenario lasts")
	fs.Parse(args)

	if rf.output != "text" && rf.output != "json" {
		fmt.Fprintf(os.Stderr, "error: --output must be 'text' or 'json', got %q\n", rf.output)
		return ExitError
	}
	if rf.scenario != "" && !failure.Scenario(rf.scenario).Valid() {
		fmt.Fprintf(os.Stderr, "error: unknown failure scenario %q\n", rf.scenario)
		return ExitError
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	if rf.users > 0 {
		cfg.Traffic.Users = rf.users
	}
	if rf.concurrency > 0 {
		cfg.Traffic.Concurrency = rf.concurrency
	}
	profiled := cfg.Traffic.LoadProfile != nil && len(cfg.Traffic.LoadProfile.Phases) > 0
	if !profiled && cfg.Traffic.Users < 1 {
		fmt.Fprintln(os.Stderr, "error: --users must be >= 1")
		return ExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coll := collector.NewCollector()
	e, err := newEngine(ctx, cfg, engineOptions{
		reporters: []core.Reporter{coll},
		onEnd:     []func(core.SessionSummary){coll.RecordSession},
		verbose:   common.verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}

	prog := progress.New(coll,
		progress.Quiet(rf.quiet),
		progress.WithStatus(func() progress.Status {
			return progress.Status{
				ActiveUsers: e.coord.ActiveUsers(),
				Sessions:    len(coll.Sessions()),
				Scenario:    string(e.sim.Status().Scenario),
			}
		}),
	)

	var runCtx context.Context
	var cancel context.CancelFunc
	if rf.duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, rf.duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if rf.scenario != "" {
		scheduleFailure(runCtx, e, prog, failure.Scenario(rf.scenario), rf.failureAfter, rf.failureDuration)
	}

	prog.Start()
	if profiled {
		prog.Printf("Tracewright starting with load profile against %s", cfg.Target.BaseURL)
		e.coord.RunWithProfile(runCtx, cfg.Traffic.LoadProfile, prog)
	} else {
		prog.Printf("Tracewright starting: %d users, concurrency %d, target %s",
			cfg.Traffic.Users, cfg.Traffic.Concurrency, cfg.Target.BaseURL)
		if _, err := e.coord.Start(runCtx, coordinator.StartRequest{
			Users:       cfg.Traffic.Users,
			Concurrency: cfg.Traffic.Concurrency,
		}); err != nil {
			prog.Stop()
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			e.drain(shutdownTimeout)
			return ExitError
		}
	}
	e.coord.Wait()
	cancel()
	prog.Stop()
	e.drain(shutdownTimeout)
	coll.Close()

	return report(cfg, coll, rf.output, ctx.Err() != nil)
}

// scheduleFailure starts scenario after delay unless ctx ends first.
func scheduleFailure(ctx context.Context, e *engine, prog *progress.Progress, scenario failure.Scenario, delay, d time.Duration) {
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		res := e.sim.Start(scenario, d)
		if !res.Success {
			e.logger.Error("failure scenario not started", zap.String("scenario", string(scenario)), zap.String("error", res.Error))
			return
		}
		prog.Printf("Failure scenario %s started, ends at %s", scenario, res.ExpectedEndTime.Format(time.TimeOnly))
	}()
}

func report(cfg *config.Config, coll *collector.Collector, output string, interrupted bool) int {
	m := coll.Compute()

	var results *collector.ThresholdResults
	if cfg.Thresholds != nil {
		results = cfg.Thresholds.Check(m)
	}

	if output == "json" {
		if err := collector.FormatJSON(os.Stdout, m, results); err != nil {
			fmt.Fprintf(os.Stderr, "error: writing report: %v\n", err)
			return ExitError
		}
	} else {
		collector.FormatText(os.Stdout, m, results)
	}

	if interrupted {
		return ExitSuccess
	}
	if results != nil && !results.Passed {
		if output == "text" {
			fmt.Fprintln(os.Stderr, "\nThreshold check failed!")
		}
		return ExitThresholdFailed
	}
	return ExitSuccess
}
