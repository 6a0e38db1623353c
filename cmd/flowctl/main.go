// Package main implements flowctl, a small CLI that runs spec.md §8's
// demo scenarios (S1-S3, S6) end to end over the real queue/endpoint/
// port/conn stack — grounded on the teacher's cmd/authn/main.go: a bare
// flag.FlagSet per subcommand, no cobra/urfave, nlog for all diagnostics.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/flowweave/transport/cmn/config"
	"github.com/flowweave/transport/cmn/nlog"
	"github.com/flowweave/transport/directory/buntstore"
	"github.com/flowweave/transport/stats"
	"github.com/flowweave/transport/tunnelnet"
)

var build string

func usage() {
	fmt.Fprintln(os.Stderr, "usage: flowctl demo [-scenario s1|s2|s3|s6|all] [-config path] [-metrics-addr addr]")
	fmt.Fprintln(os.Stderr, "       flowctl version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "version":
		fmt.Println("flowctl", build)
	case "demo":
		if err := runDemo(os.Args[2:]); err != nil {
			nlog.Errorf("flowctl: %v", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

// applyConfig layers a loaded cmn/config.Config onto the process-wide
// knobs it controls: tunnelnet's dial timeout var, the demo's default
// queue length, and, when a log file is set, the log file and its rotation
// limits. Logging.Level and Monitor.Tick are not applied; the demo
// scenarios never register a TunnelOutEndpoint, so there is no Monitor
// loop here to hand the tick to.
func applyConfig(cfg *config.Config) {
	tunnelnet.DialTimeout = cfg.Tunnel.DialTimeout
	defaultQueueLength = cfg.Queue.DefaultLength
	if cfg.Logging.File != "" {
		nlog.ToFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays)
	}
}

func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	scenarioName := fs.String("scenario", "all", "which scenario to run: s1, s2, s3, s6, or all")
	configPath := fs.String("config", "", "path to a cmn/config YAML file")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address for the duration of the run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		applyConfig(cfg)
	}

	dir, err := buntstore.Open(":memory:")
	if err != nil {
		return fmt.Errorf("opening directory store: %w", err)
	}
	defer dir.Close()

	reg := stats.New()
	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: reg.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				nlog.Errorf("flowctl: metrics listener: %v", err)
			}
		}()
		defer srv.Close()
		nlog.Infof("flowctl: serving metrics on %s", *metricsAddr)
	}

	names := []string{*scenarioName}
	if *scenarioName == "all" {
		names = names[:0]
		for name := range scenarios {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	var failed []string
	for _, name := range names {
		run, ok := scenarios[name]
		if !ok {
			return fmt.Errorf("unknown scenario %q", name)
		}
		if err := run(os.Stdout, reg, dir); err != nil {
			nlog.Errorf("flowctl: scenario %s failed: %v", name, err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("scenario(s) failed: %v", failed)
	}
	return nil
}
