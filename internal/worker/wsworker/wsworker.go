// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package wsworker implements the WebSocket protocol worker (spec
// §4.3 "Other protocol variants"): an outbound connection that reads a
// streaming feed and emits a success envelope per inbound message, an
// error envelope on connection loss, then awaits recover rather than
// reconnecting on its own initiative.
package wsworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
	"github.com/JorgeSuarezV/argos/internal/validation"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

// Tag is the protocol tag this package registers under.
const Tag = "websocket"

// Connection deadlines for the ping/pong keepalive: a ping is written
// every pingPeriod, and each pong extends the read deadline by pongWait.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Schema is the WebSocket protocol config schema.
var Schema = schema.Fields{
	{Name: "url", Type: schema.TypeString, Required: true},
	{Name: "headers", Type: schema.TypeMap, Required: false, Default: map[string]any{}},
	{Name: "handshake_timeout", Type: schema.TypeNumber, Required: false, Default: float64(5000)},
}

func init() {
	worker.Register(Tag, Schema, New)
}

// Config is the typed, post-validation WebSocket protocol configuration.
// The validate tag on URL double-checks a caller that constructs Config
// directly, bypassing schema.Fields.Validate.
type Config struct {
	URL              string `validate:"required,url"`
	Headers          map[string]string
	HandshakeTimeout time.Duration `validate:"gt=0"`
}

// Worker dials an outbound WebSocket connection and emits normalized
// envelopes for every inbound message or connection-loss event.
type Worker struct {
	id    envelope.MonitorID
	cfg   Config
	inbox chan<- envelope.Envelope

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	timer       *time.Timer
	conn        *websocket.Conn
	lastSuccess time.Time

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a WebSocket Worker. It is registered as the Tag
// factory.
func New(id envelope.MonitorID, config map[string]any, inbox chan<- envelope.Envelope) (worker.Worker, error) {
	cfg := parseConfig(config)
	if err := validation.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("wsworker: invalid config: %w", err)
	}
	return &Worker{id: id, cfg: cfg, inbox: inbox, done: make(chan struct{})}, nil
}

func parseConfig(config map[string]any) Config {
	cfg := Config{Headers: map[string]string{}, HandshakeTimeout: 5 * time.Second}
	if v, ok := config["url"].(string); ok {
		cfg.URL = v
	}
	if v, ok := config["headers"].(map[string]any); ok {
		for k, hv := range v {
			if s, ok := hv.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}
	if v, ok := config["handshake_timeout"].(float64); ok {
		cfg.HandshakeTimeout = time.Duration(v) * time.Millisecond
	}
	return cfg
}

// Start launches the worker: it dials the configured URL and begins
// streaming inbound frames as success envelopes.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx = ctx
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.connect()
	}()
}

// Done implements worker.Worker.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) connect() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.HandshakeTimeout}
	header := make(map[string][]string, len(w.cfg.Headers))
	for k, v := range w.cfg.Headers {
		header[k] = []string{v}
	}

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		w.emitConnError(envelope.ErrorNetwork, err.Error())
		return
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.readLoop(ctx, conn)
	}()
	go func() {
		defer w.wg.Done()
		w.pingLoop(ctx, conn)
	}()
}

func (w *Worker) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.emitConnError(envelope.ErrorNetwork, err.Error())
			return
		}
		w.emitMessage(payload)
	}
}

func (w *Worker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Recover implements worker.Worker. The worker never reconnects on its
// own initiative (spec §4.3); it waits for an explicit command.
func (w *Worker) Recover(action retry.Action) {
	w.mu.Lock()
	w.stopTimerLocked()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	switch action.Command {
	case retry.CommandRetry:
		w.mu.Lock()
		if w.ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		delay := time.Duration(action.DelayMs) * time.Millisecond
		w.armTimerLocked(delay)
		w.mu.Unlock()
	case retry.CommandShutdown:
		w.mu.Lock()
		if w.cancel != nil {
			w.cancel()
		}
		w.mu.Unlock()
		go func() {
			w.wg.Wait()
			w.closeOnce.Do(func() { close(w.done) })
		}()
	}
}

// stopTimerLocked cancels any outstanding reconnect timer. w.mu must be
// held. If the timer is disarmed before firing, the wg.Add it was armed
// with is balanced here so Done() doesn't wait forever on a reconnect
// that will never run.
func (w *Worker) stopTimerLocked() {
	if w.timer == nil {
		return
	}
	if w.timer.Stop() {
		w.wg.Done()
	}
	w.timer = nil
}

// armTimerLocked schedules connect to run after delay, accounting for it
// in wg so Done() waits for the scheduled attempt. w.mu must be held.
func (w *Worker) armTimerLocked(delay time.Duration) {
	w.wg.Add(1)
	w.timer = time.AfterFunc(delay, func() {
		defer w.wg.Done()
		w.connect()
	})
}

func (w *Worker) emitMessage(payload []byte) {
	w.mu.Lock()
	w.lastSuccess = time.Now().UTC()
	last := w.lastSuccess
	w.mu.Unlock()
	w.send(envelope.NewSuccess(w.id, map[string]any{
		"message": string(payload),
	}, last))
}

func (w *Worker) emitConnError(errType envelope.ErrorType, message string) {
	w.mu.Lock()
	last := w.lastSuccess
	w.mu.Unlock()
	w.send(envelope.NewFailure(w.id, errType, message, map[string]any{
		"url": w.cfg.URL,
	}, last))
}

func (w *Worker) send(e envelope.Envelope) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		w.inbox <- e
		return
	}
	select {
	case w.inbox <- e:
	case <-ctx.Done():
		logging.Warn().Str("monitor_id", string(w.id)).Msg("worker shut down before envelope delivery")
	}
}
