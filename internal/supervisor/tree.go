// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/JorgeSuarezV/argos/internal/configdoc"
	"github.com/JorgeSuarezV/argos/internal/coordinator"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/registry"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

// TreeConfig holds monitor supervisor configuration (spec §4.6, §5).
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// of each coordinator (spec §5 "bounded by a timeout, default 5000ms").
	// Default: 5s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults. These values match
// suture's built-in defaults, except ShutdownTimeout which follows spec
// §5's 5000ms default rather than suture's own 10s.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Tree is the monitor supervisor (spec §4.6): one flat supervision layer
// holding one coordinator per validated monitor record. Unlike the
// teacher's fixed three-layer tree (data/messaging/api), Argos has no
// database or HTTP-API layers to isolate — every child here is the same
// kind of thing, a monitor coordinator, so one supervisor is sufficient.
type Tree struct {
	root     *suture.Supervisor
	registry *registry.Registry
	config   TreeConfig
}

// NewTree validates doc against the schemas advertised by every
// registered protocol worker and, on success, builds a supervisor with
// one coordinator added per validated monitor record (spec §4.6
// "Startup"). On validation failure it returns the aggregated reason
// list and does not start any monitor.
func NewTree(doc configdoc.RawDocument, config TreeConfig) (*Tree, error) {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	result, err := configdoc.Validate(doc, worker.Schemas())
	if err != nil {
		return nil, fmt.Errorf("supervisor: configuration invalid: %w", err)
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	root := suture.New("argos", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	})

	reg := registry.New()
	for _, rec := range result.Monitors {
		factory, ok := worker.Lookup(rec.Type)
		if !ok {
			return nil, fmt.Errorf("supervisor: no protocol worker registered for type %q (monitor %q)", rec.Type, rec.ID)
		}
		c := coordinator.New(rec, factory, reg)
		root.Add(c)
	}

	return &Tree{root: root, registry: reg, config: config}, nil
}

// Registry returns the shared subscriber registry every coordinator in
// this tree dispatches through (spec §4.2, §5 "Shared resources").
func (t *Tree) Registry() *registry.Registry {
	return t.registry
}

// Serve starts the tree and blocks until ctx is canceled, at which point
// every coordinator is commanded to shut down in parallel and the call
// returns once each has terminated or the bounded wait elapses (spec
// §4.6 "Shutdown").
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a background goroutine, returning a
// channel that receives the terminal error (or nil) when the tree stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns coordinators that failed to stop within
// the configured shutdown timeout, for diagnosing stuck shutdowns.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
