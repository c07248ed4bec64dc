// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package coordinator implements the monitor coordinator (spec §4.4):
// one protocol worker, one inbox, and the retry_count/worker-handle
// state machine that drives it. A Coordinator is a suture.Service, so
// the monitor supervisor adds it directly to its supervision tree.
package coordinator

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/JorgeSuarezV/argos/internal/configdoc"
	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/metrics"
	"github.com/JorgeSuarezV/argos/internal/registry"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

// DefaultShutdownTimeout is the bounded wait for worker termination
// during shutdown (spec §5, default 5000ms).
const DefaultShutdownTimeout = 5000 * time.Millisecond

// Coordinator owns one protocol worker for one monitor record.
type Coordinator struct {
	record  configdoc.MonitorRecord
	factory worker.Factory
	reg     *registry.Registry

	shutdownTimeout time.Duration
	inboxSize       int

	retryCount int
}

// New constructs a Coordinator for record, wiring it to dispatch
// through reg to every name in record.InformTo.
func New(record configdoc.MonitorRecord, factory worker.Factory, reg *registry.Registry) *Coordinator {
	return &Coordinator{
		record:          record,
		factory:         factory,
		reg:             reg,
		shutdownTimeout: DefaultShutdownTimeout,
		inboxSize:       16,
	}
}

// Serve implements suture.Service. It spawns the protocol worker,
// processes its inbox strictly sequentially (the ordering invariant of
// spec §4.4), and returns suture.ErrDoNotRestart when the monitor
// terminates normally after exhausting its retry policy — a coordinator
// that finishes this way is not restarted, per spec §4.6.
func (c *Coordinator) Serve(ctx context.Context) error {
	log := logging.With().Str("monitor_id", string(c.record.ID)).Logger()

	inbox := make(chan envelope.Envelope, c.inboxSize)
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.factory(envelope.MonitorID(c.record.ID), c.record.Config, inbox)
	if err != nil {
		log.Err(err).Msg("failed to construct protocol worker")
		return err
	}
	w.Start(workerCtx)

	c.retryCount = 0
	metrics.MonitorsActive.Inc()
	defer metrics.MonitorsActive.Dec()
	metrics.RetryCount.WithLabelValues(string(c.record.ID)).Set(0)

	for {
		select {
		case <-ctx.Done():
			w.Recover(retry.Action{Command: retry.CommandShutdown})
			c.awaitWorkerShutdown(w, inbox)
			return nil

		case e := <-inbox:
			if e.IsSuccess() {
				c.dispatch(registry.TagMonitorData, e)
				c.retryCount = 0
				metrics.RetryCount.WithLabelValues(string(c.record.ID)).Set(0)
				continue
			}

			c.dispatch(registry.TagMonitorError, e)

			action, err := retry.Decide(c.retryCount, c.record.RetryPolicy)
			if err != nil {
				log.Err(err).Msg("retry policy decision failed")
				return err
			}

			switch action.Command {
			case retry.CommandRetry:
				attempt := c.retryCount + 1
				log.Warn().
					Int("attempt", attempt).
					Int("delay_ms", action.DelayMs).
					Msgf("Calculated backoff delay: %dms for attempt %d", action.DelayMs, attempt)
				w.Recover(action)
				c.retryCount++
				metrics.RetryCount.WithLabelValues(string(c.record.ID)).Set(float64(c.retryCount))

			case retry.CommandShutdown:
				log.Warn().
					Int("retry_count", c.retryCount).
					Msgf("Monitor %s shutting down after %d retries", c.record.ID, c.retryCount)
				w.Recover(action)
				c.awaitWorkerShutdown(w, inbox)
				metrics.MonitorsShutdown.WithLabelValues(string(c.record.ID)).Inc()
				return suture.ErrDoNotRestart
			}
		}
	}
}

// dispatch fans e out through the subscriber registry to every name in
// the monitor's inform_to list (spec §4.4). Dispatch happens before any
// retry decision is made — subscribers see every envelope regardless of
// the outcome of classification.
func (c *Coordinator) dispatch(tag registry.Tag, e envelope.Envelope) {
	metrics.EnvelopesDispatched.WithLabelValues(string(c.record.ID), string(tag)).Inc()
	for _, name := range c.record.InformTo {
		c.reg.Dispatch(name, registry.Delivery{Tag: tag, Envelope: e})
	}
}

// awaitWorkerShutdown returns as soon as w reports actual termination via
// Done(), draining (and discarding) any in-flight envelope the worker
// emits while shutting down. shutdownTimeout is a forced-kill bound
// (spec §5): it only matters if the worker never signals Done, and
// otherwise this returns as soon as the worker goes idle.
func (c *Coordinator) awaitWorkerShutdown(w worker.Worker, inbox <-chan envelope.Envelope) {
	timer := time.NewTimer(c.shutdownTimeout)
	defer timer.Stop()
	for {
		select {
		case <-inbox:
		case <-w.Done():
			return
		case <-timer.C:
			return
		}
	}
}
