// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package mqttworker implements the MQTT protocol worker (spec §4.3
// "Other protocol variants"): a push-based subscriber that emits a
// success envelope per inbound message and an error envelope on
// connection loss, then awaits an explicit recover command rather than
// reconnecting autonomously.
package mqttworker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
	"github.com/JorgeSuarezV/argos/internal/validation"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

// Tag is the protocol tag this package registers under.
const Tag = "mqtt"

var minQoS, maxQoS = 0.0, 2.0
var minKeepalive, maxKeepalive = 5.0, 3600.0

// Schema is the MQTT protocol config schema.
var Schema = schema.Fields{
	{Name: "broker", Type: schema.TypeString, Required: true},
	{Name: "topic", Type: schema.TypeString, Required: true},
	{Name: "qos", Type: schema.TypeNumber, Required: false, Default: float64(0), Rules: schema.Rules{Min: &minQoS, Max: &maxQoS}},
	{Name: "client_id", Type: schema.TypeString, Required: false},
	{Name: "username", Type: schema.TypeString, Required: false, Default: ""},
	{Name: "password", Type: schema.TypeString, Required: false, Default: ""},
	{Name: "keepalive", Type: schema.TypeNumber, Required: false, Default: float64(60), Rules: schema.Rules{Min: &minKeepalive, Max: &maxKeepalive}},
}

func init() {
	worker.Register(Tag, Schema, New)
}

// Config is the typed, post-validation MQTT protocol configuration. The
// validate tags are a second, belt-and-suspenders check run by New:
// schema.Fields has already checked the raw config by this point, but
// Config's own fields are double-checked in case a caller constructs
// one directly.
type Config struct {
	Broker    string `validate:"required"`
	Topic     string `validate:"required"`
	QoS       byte   `validate:"lte=2"`
	ClientID  string `validate:"required"`
	Username  string
	Password  string
	Keepalive uint16 `validate:"gte=5,lte=3600"`
}

// Worker subscribes to one MQTT topic for the lifetime of its
// connection and emits normalized envelopes for every inbound message
// or connection-loss event.
type Worker struct {
	id    envelope.MonitorID
	cfg   Config
	inbox chan<- envelope.Envelope

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	conn   net.Conn
	client *paho.Client

	lastSuccess time.Time

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs an MQTT Worker. It is registered as the Tag factory.
func New(id envelope.MonitorID, config map[string]any, inbox chan<- envelope.Envelope) (worker.Worker, error) {
	cfg := parseConfig(config)
	if err := validation.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("mqttworker: invalid config: %w", err)
	}
	return &Worker{id: id, cfg: cfg, inbox: inbox, done: make(chan struct{})}, nil
}

func parseConfig(config map[string]any) Config {
	cfg := Config{QoS: 0, Keepalive: 60, ClientID: "argos-" + uuid.NewString()}
	if v, ok := config["broker"].(string); ok {
		cfg.Broker = v
	}
	if v, ok := config["topic"].(string); ok {
		cfg.Topic = v
	}
	if v, ok := config["qos"].(float64); ok {
		cfg.QoS = byte(v)
	}
	if v, ok := config["client_id"].(string); ok && v != "" {
		cfg.ClientID = v
	}
	if v, ok := config["username"].(string); ok {
		cfg.Username = v
	}
	if v, ok := config["password"].(string); ok {
		cfg.Password = v
	}
	if v, ok := config["keepalive"].(float64); ok {
		cfg.Keepalive = uint16(v)
	}
	return cfg
}

// Start launches the worker: it dials the broker, subscribes to the
// configured topic, and begins delivering inbound publishes as success
// envelopes. A dial or connect failure is reported as an error envelope
// immediately; the worker then awaits recover like any other failure.
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

	conn, err := net.Dial("tcp", w.cfg.Broker)
	if err != nil {
		w.emitConnError(envelope.ErrorNetwork, fmt.Sprintf("dial %s: %s", w.cfg.Broker, err))
		return
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: w.cfg.ClientID,
		OnClientError: func(err error) {
			w.emitConnError(envelope.ErrorNetwork, err.Error())
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			w.emitConnError(envelope.ErrorProtocol, "server disconnected")
		},
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				w.emitMessage(pr.Packet.Topic, pr.Packet.Payload, pr.Packet.QoS)
				return true, nil
			},
		},
	})

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	connAck, err := client.Connect(connCtx, &paho.Connect{
		KeepAlive:  w.cfg.Keepalive,
		ClientID:   w.cfg.ClientID,
		CleanStart: true,
		Username:   w.cfg.Username,
		Password:   []byte(w.cfg.Password),
		UsernameFlag: w.cfg.Username != "",
		PasswordFlag: w.cfg.Password != "",
	})
	if err != nil {
		_ = conn.Close()
		w.emitConnError(envelope.ErrorAuthentication, err.Error())
		return
	}
	if connAck.ReasonCode != 0 {
		_ = conn.Close()
		w.emitConnError(envelope.ErrorAuthentication, fmt.Sprintf("connect refused: reason %d", connAck.ReasonCode))
		return
	}

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: w.cfg.Topic, QoS: w.cfg.QoS}},
	}); err != nil {
		_ = conn.Close()
		w.emitConnError(envelope.ErrorProtocol, fmt.Sprintf("subscribe %s: %s", w.cfg.Topic, err))
		return
	}

	w.mu.Lock()
	w.conn = conn
	w.client = client
	w.mu.Unlock()
}

// Recover implements worker.Worker. On {retry, delay_ms}, the worker
// waits the requested delay and then attempts reconnect — it never
// reconnects on its own initiative (spec §4.3).
func (w *Worker) Recover(action retry.Action) {
	w.mu.Lock()
	w.stopTimerLocked()
	conn := w.conn
	client := w.client
	w.conn, w.client = nil, nil
	w.mu.Unlock()

	if client != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
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

func (w *Worker) emitMessage(topic string, payload []byte, qos byte) {
	var decoded any = string(payload)
	var asJSON any
	if err := json.Unmarshal(payload, &asJSON); err == nil {
		decoded = asJSON
	}
	w.mu.Lock()
	w.lastSuccess = time.Now().UTC()
	last := w.lastSuccess
	w.mu.Unlock()

	w.send(envelope.NewSuccess(w.id, map[string]any{
		"topic":   topic,
		"payload": decoded,
		"qos":     qos,
	}, last))
}

func (w *Worker) emitConnError(errType envelope.ErrorType, message string) {
	w.mu.Lock()
	last := w.lastSuccess
	w.mu.Unlock()
	w.send(envelope.NewFailure(w.id, errType, message, map[string]any{
		"broker": w.cfg.Broker,
		"topic":  w.cfg.Topic,
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
