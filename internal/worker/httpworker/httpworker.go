// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package httpworker implements the HTTP protocol worker (spec §4.3
// "HTTP worker semantics"): a timer-driven poller that performs one
// HTTP request per tick, classifies the response, and emits a
// normalized envelope to its coordinator.
package httpworker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
	"github.com/JorgeSuarezV/argos/internal/validation"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

// Tag is the protocol tag this package registers under (spec §6
// "Protocol worker extensibility").
const Tag = "http"

var minInterval, maxInterval = 100.0, 3600000.0
var minTimeout, maxTimeout = 100.0, 30000.0

// minProbeInterval is the hard floor on actual probe execution, enforced
// by a token-bucket limiter rather than trusted input alone. The field
// schema already rejects interval < 100ms, but Worker is also a public
// library type a caller can construct directly, bypassing Validate.
const minProbeInterval = 100 * time.Millisecond

// Schema is the HTTP protocol config schema (spec §6 exemplar).
var Schema = schema.Fields{
	{Name: "url", Type: schema.TypeString, Required: true, Rules: schema.Rules{Pattern: urlPattern}},
	{Name: "method", Type: schema.TypeString, Required: false, Default: "GET"},
	{Name: "headers", Type: schema.TypeMap, Required: false, Default: map[string]any{}},
	{Name: "interval", Type: schema.TypeNumber, Required: true, Rules: schema.Rules{Min: &minInterval, Max: &maxInterval}},
	{Name: "timeout", Type: schema.TypeNumber, Required: false, Default: float64(5000), Rules: schema.Rules{Min: &minTimeout, Max: &maxTimeout}},
	{Name: "follow_redirect", Type: schema.TypeBool, Required: false, Default: true},
	{Name: "verify_ssl", Type: schema.TypeBool, Required: false, Default: false},
	{Name: "request_body", Type: schema.TypeString, Required: false, Default: ""},
	{Name: "request_params", Type: schema.TypeMap, Required: false, Default: map[string]any{}},
}

var urlPattern = regexp.MustCompile(`^https?://.+`)

func init() {
	worker.Register(Tag, Schema, New)
}

// Config is the typed, post-validation HTTP protocol configuration. The
// validate tags are a second check run by New, after schema.Fields has
// already checked the raw config — defensive against a caller that
// constructs Config directly.
type Config struct {
	URL            string `validate:"required,url"`
	Method         string `validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers        map[string]string
	Interval       time.Duration `validate:"gte=100000000"` // 100ms in nanoseconds
	Timeout        time.Duration `validate:"gt=0"`
	FollowRedirect bool
	VerifySSL      bool
	RequestBody    string
	RequestParams  map[string]string
}

// Worker polls an HTTP endpoint on a timer and emits normalized
// envelopes (spec §4.3).
type Worker struct {
	id      envelope.MonitorID
	cfg     Config
	inbox   chan<- envelope.Envelope
	client  *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	timer       *time.Timer
	lastSuccess time.Time

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs an HTTP Worker. It is registered as the Tag factory.
func New(id envelope.MonitorID, config map[string]any, inbox chan<- envelope.Envelope) (worker.Worker, error) {
	cfg := parseConfig(config)
	if err := validation.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("httpworker: invalid config: %w", err)
	}
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			if cfg.FollowRedirect {
				return nil
			}
			return http.ErrUseLastResponse
		},
	}
	if !cfg.VerifySSL {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // operator-requested per verify_ssl=false
		}
	}
	return &Worker{
		id:      id,
		cfg:     cfg,
		inbox:   inbox,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(minProbeInterval), 1),
		done:    make(chan struct{}),
	}, nil
}

func parseConfig(config map[string]any) Config {
	cfg := Config{
		Method:         "GET",
		Headers:        map[string]string{},
		Timeout:        5000 * time.Millisecond,
		FollowRedirect: true,
		RequestParams:  map[string]string{},
	}
	if v, ok := config["url"].(string); ok {
		cfg.URL = v
	}
	if v, ok := config["method"].(string); ok && v != "" {
		cfg.Method = v
	}
	if v, ok := config["interval"].(float64); ok {
		cfg.Interval = time.Duration(v) * time.Millisecond
	}
	if v, ok := config["timeout"].(float64); ok {
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := config["follow_redirect"].(bool); ok {
		cfg.FollowRedirect = v
	}
	if v, ok := config["verify_ssl"].(bool); ok {
		cfg.VerifySSL = v
	}
	if v, ok := config["request_body"].(string); ok {
		cfg.RequestBody = v
	}
	if v, ok := config["headers"].(map[string]any); ok {
		cfg.Headers = stringMap(v)
	}
	if v, ok := config["request_params"].(map[string]any); ok {
		cfg.RequestParams = stringMap(v)
	}
	return cfg
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Start launches the polling loop (spec §4.3: "first fire at t=0"). It
// returns immediately; the first probe and every subsequent one run on
// goroutines driven by the worker's internal timer.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx = ctx
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.probe()
	}()
}

// Done implements worker.Worker.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Recover implements worker.Worker (spec §4.3 "recover"). On
// {retry, delay_ms}, cancel any outstanding timer and arm a fresh one
// for the requested delay. On {shutdown}, cancel any outstanding timer
// and terminate the worker's context.
func (w *Worker) Recover(action retry.Action) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimerLocked()
	switch action.Command {
	case retry.CommandRetry:
		if w.ctx.Err() != nil {
			return
		}
		delay := time.Duration(action.DelayMs) * time.Millisecond
		w.armTimerLocked(delay)
	case retry.CommandShutdown:
		if w.cancel != nil {
			w.cancel()
		}
		go func() {
			w.wg.Wait()
			w.closeOnce.Do(func() { close(w.done) })
		}()
	}
}

// stopTimerLocked cancels any outstanding probe timer. w.mu must be held.
// If the timer is disarmed before firing, the wg.Add it was armed with is
// balanced here so Done() doesn't wait forever on a probe that will never
// run.
func (w *Worker) stopTimerLocked() {
	if w.timer == nil {
		return
	}
	if w.timer.Stop() {
		w.wg.Done()
	}
	w.timer = nil
}

// armTimerLocked schedules probe to run after delay, accounting for it in
// wg so Done() waits for the scheduled run. w.mu must be held.
func (w *Worker) armTimerLocked(delay time.Duration) {
	w.wg.Add(1)
	w.timer = time.AfterFunc(delay, func() {
		defer w.wg.Done()
		w.probe()
	})
}

// scheduleNext arms the timer for the next periodic probe after a
// success (spec §4.3: "Schedule next probe at now + interval_ms"). It
// does not fire again on error — an error waits for an explicit
// recover command.
func (w *Worker) scheduleNext() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	w.stopTimerLocked()
	w.armTimerLocked(w.cfg.Interval)
}

func (w *Worker) probe() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if delay := w.limiter.Reserve().Delay(); delay > 0 {
		w.mu.Lock()
		if w.ctx.Err() == nil {
			w.stopTimerLocked()
			w.armTimerLocked(delay)
		}
		w.mu.Unlock()
		return
	}

	req, err := w.buildRequest(ctx)
	if err != nil {
		w.emitException(err)
		return
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.emitTransportError(err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.emitSuccess(resp)
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && !w.cfg.FollowRedirect:
		w.emitRedirect(resp)
	default:
		w.emitHTTPError(resp)
	}
}

func (w *Worker) buildRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return nil, err
	}
	if len(w.cfg.RequestParams) > 0 {
		q := u.Query()
		for k, v := range w.cfg.RequestParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	var body io.Reader
	if w.cfg.RequestBody != "" {
		body = strings.NewReader(w.cfg.RequestBody)
	}
	req, err := http.NewRequestWithContext(ctx, w.cfg.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (w *Worker) emitSuccess(resp *http.Response) {
	decoded := decodeBody(resp.Body)
	w.mu.Lock()
	w.lastSuccess = time.Now().UTC()
	last := w.lastSuccess
	w.mu.Unlock()

	data := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
		"headers":     flattenHeader(resp.Header),
	}
	w.send(envelope.NewSuccess(w.id, data, last))
	w.scheduleNext()
}

func (w *Worker) emitRedirect(resp *http.Response) {
	w.send(envelope.NewFailure(w.id, envelope.ErrorRedirect, "redirect not followed", map[string]any{
		"status_code":  resp.StatusCode,
		"redirect_url": resp.Header.Get("Location"),
	}, w.snapshotLastSuccess()))
}

func (w *Worker) emitHTTPError(resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	w.send(envelope.NewFailure(w.id, envelope.ErrorHTTP, "http error response", map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(body),
	}, w.snapshotLastSuccess()))
}

func (w *Worker) emitTransportError(err error) {
	errType := envelope.ErrorClient
	if isTimeout(err) {
		errType = envelope.ErrorTimeout
	}
	w.send(envelope.NewFailure(w.id, errType, err.Error(), map[string]any{
		"reason": err.Error(),
	}, w.snapshotLastSuccess()))
}

func (w *Worker) emitException(err error) {
	w.send(envelope.NewFailure(w.id, envelope.ErrorException, err.Error(), map[string]any{
		"kind":  "request_construction",
		"error": err.Error(),
	}, w.snapshotLastSuccess()))
}

// send delivers e to the coordinator's inbox. It blocks until the
// coordinator receives it so envelope ordering is never lost to a
// drop, but unblocks immediately if the worker is shut down mid-send.
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

func (w *Worker) snapshotLastSuccess() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSuccess
}

// decodeBody returns the response body decoded as JSON when possible
// (spec §4.3: "body_decoded_as_json_if_possible"), falling back to the
// raw string otherwise.
func decodeBody(r io.Reader) any {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if e, ok := err.(interface{ Unwrap() error }); ok {
		if tt, ok2 := e.Unwrap().(timeouter); ok2 {
			t = tt
		}
	}
	if tt, ok := err.(timeouter); ok {
		t = tt
	}
	return t != nil && t.Timeout()
}
