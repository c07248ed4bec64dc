// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package main is the entry point for the Argos monitoring runtime.
//
// Argos loads a declarative monitor document, validates it against the
// field schemas advertised by every registered protocol worker, and
// hands the result to the monitor supervisor, which spawns one
// coordinator per monitor and runs until signaled.
//
// # Usage
//
//	argos start <monitors.json> [--settings settings.json]
//	argos stop
//	argos reload   # rejected: hot-reload is out of scope
//
// # Signal Handling
//
// start handles graceful shutdown on SIGINT and SIGTERM: the supervisor
// cancels every coordinator's context, each coordinator commands its
// worker to stop and waits up to its configured shutdown timeout, and
// the process exits once every coordinator has settled or the timeout
// elapses.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JorgeSuarezV/argos/internal/config"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/metrics"
	"github.com/JorgeSuarezV/argos/internal/supervisor"

	_ "github.com/JorgeSuarezV/argos/internal/worker/httpworker"
	_ "github.com/JorgeSuarezV/argos/internal/worker/mqttworker"
	_ "github.com/JorgeSuarezV/argos/internal/worker/wsworker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "stop":
		// Argos has no resident daemon registry to signal (spec.md §6 is
		// unchanged here): send SIGTERM to the running process yourself.
		fmt.Fprintln(os.Stderr, "argos stop: send SIGINT or SIGTERM to the running process directly")
		os.Exit(1)
	case "reload":
		fmt.Fprintln(os.Stderr, "argos reload: not supported, configuration reload is out of scope")
		os.Exit(1)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: argos start <monitors.json> [--settings settings.json]")
}

func runStart(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	documentPath := args[0]
	settingsPath := ""
	for i := 1; i < len(args); i++ {
		if args[i] == "--settings" && i+1 < len(args) {
			settingsPath = args[i+1]
			i++
		}
	}

	settings, err := config.LoadRuntimeSettings(settingsPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load runtime settings")
	}

	logging.Init(logging.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
	})

	logging.Info().Str("document", documentPath).Msg("starting Argos")

	// No exposition server ships with the core runtime; a host process
	// embedding Argos is expected to serve prometheus.DefaultGatherer
	// itself (e.g. with promhttp) however it serves its own metrics.
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logging.Warn().Err(err).Msg("failed to register Argos metrics collectors")
	}

	doc, err := config.LoadDocument(documentPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load monitor document")
	}

	tree, err := supervisor.NewTree(doc, supervisor.TreeConfig{
		ShutdownTimeout: settings.ShutdownTimeout(),
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build monitor supervisor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("coordinators failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("coordinator failed to stop")
		}
	}

	logging.Info().Msg("Argos stopped gracefully")
}
