// Package remote connects the appliance to an MQTT broker. It publishes the
// operator status as a retained message and accepts take-photo and
// set-mode commands on a control topic.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/poetrycam/internal/config"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/ayusman/poetrycam/internal/trigger"
)

// ErrDisabled is returned by Connect when no broker is configured.
var ErrDisabled = errors.New("remote control disabled")

// Command names accepted on the control topic.
const (
	CommandTakePhoto = "take_photo"
	CommandSetMode   = "set_mode"
	CommandGetStatus = "get_status"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Command is a control message.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response acknowledges a command on the response topic.
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Callbacks connect commands to the app.
type Callbacks struct {
	OnTakePhoto func() (trigger.Event, error)
	OnSetMode   func(mode string) error
	OnGetStatus func() status.Status
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Remote is the MQTT status publisher and command handler.
type Remote struct {
	cfg       config.Remote
	callbacks Callbacks
	client    mqtt.Client
	pub       publisher
	commands  chan Command

	mu        sync.RWMutex
	connected bool
	published uint64
	failed    uint64
}

// New creates a Remote. Nothing connects until Connect.
func New(cfg config.Remote, callbacks Callbacks) *Remote {
	if cfg.Topic == "" {
		cfg.Topic = "poetrycam"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "poetrycam"
	}
	return &Remote{
		cfg:       cfg,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// StatusTopic is where the retained status is published.
func (r *Remote) StatusTopic() string { return r.cfg.Topic + "/status" }

// ControlTopic is where commands are received.
func (r *Remote) ControlTopic() string { return r.cfg.Topic + "/control" }

// ResponseTopic is where command acknowledgements are published.
func (r *Remote) ResponseTopic() string { return r.cfg.Topic + "/response" }

// brokerURL accepts host:port or a full URL.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection with automatic reconnects and
// a retained "offline" will on the status topic.
func (r *Remote) Connect(ctx context.Context) error {
	if r.cfg.Broker == "" {
		return ErrDisabled
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(r.cfg.Broker))
	opts.SetClientID(r.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(r.StatusTopic(), `{"state":"offline"}`, 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		r.setConnected(true)
		slog.Info("remote: mqtt connected", "broker", r.cfg.Broker, "client_id", r.cfg.ClientID)
		// Subscriptions do not survive a clean reconnect.
		if token := c.Subscribe(r.ControlTopic(), 1, r.messageHandler); token.WaitTimeout(connectTimeout) && token.Error() != nil {
			slog.Warn("remote: control subscription failed", "topic", r.ControlTopic(), "error", token.Error())
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		r.setConnected(false)
		slog.Warn("remote: mqtt connection lost, will reconnect", "broker", r.cfg.Broker, "error", err)
	}

	r.client = mqtt.NewClient(opts)
	r.pub = r.client

	slog.Info("remote: connecting to mqtt broker", "broker", r.cfg.Broker)
	token := r.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Run publishes every status change and executes queued commands until ctx
// is done.
func (r *Remote) Run(ctx context.Context, hub *status.Hub) {
	updates, cancel := hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := r.PublishStatus(st); err != nil {
				slog.Debug("remote: status not published", "error", err)
			}
		case cmd := <-r.commands:
			r.sendResponse(r.handleCommand(cmd))
		}
	}
}

// PublishStatus publishes st as the retained status message.
func (r *Remote) PublishStatus(st status.Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return r.publish(r.StatusTopic(), true, payload)
}

func (r *Remote) publish(topic string, retained bool, payload []byte) error {
	if r.pub == nil || !r.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	token := r.pub.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		r.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		r.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	r.mu.Lock()
	r.published++
	r.mu.Unlock()
	return nil
}

// messageHandler is called by the MQTT client for control messages.
func (r *Remote) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Warn("remote: invalid control message", "topic", msg.Topic(), "error", err)
		r.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("remote: command received", "command", cmd.Command)
	select {
	case r.commands <- cmd:
	default:
		slog.Warn("remote: command queue full, dropping command", "command", cmd.Command)
	}
}

func (r *Remote) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}
	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	switch cmd.Command {
	case CommandTakePhoto:
		if r.callbacks.OnTakePhoto == nil {
			return fail(errors.New("take_photo not available"))
		}
		ev, err := r.callbacks.OnTakePhoto()
		if err != nil {
			return fail(err)
		}
		resp.Status = "accepted"
		resp.Data = ev

	case CommandSetMode:
		if r.callbacks.OnSetMode == nil {
			return fail(errors.New("set_mode not available"))
		}
		mode, _ := cmd.Params["mode"].(string)
		if mode == "" {
			return fail(errors.New("params.mode is required"))
		}
		if err := r.callbacks.OnSetMode(mode); err != nil {
			return fail(err)
		}
		resp.Data = map[string]string{"mode": mode}

	case CommandGetStatus:
		if r.callbacks.OnGetStatus == nil {
			return fail(errors.New("get_status not available"))
		}
		resp.Data = r.callbacks.OnGetStatus()

	default:
		return fail(fmt.Errorf("unknown command %q", cmd.Command))
	}
	return resp
}

func (r *Remote) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("remote: marshal response", "error", err)
		return
	}
	if err := r.publish(r.ResponseTopic(), false, payload); err != nil {
		slog.Debug("remote: response not published", "command", resp.CommandAck, "error", err)
	}
}

// Close publishes an offline status and disconnects.
func (r *Remote) Close() error {
	if r.client == nil {
		return nil
	}
	if r.client.IsConnected() {
		r.publish(r.StatusTopic(), true, []byte(`{"state":"offline"}`))
		r.client.Unsubscribe(r.ControlTopic()).WaitTimeout(publishTimeout)
	}
	// Disconnect also stops a pending connect retry loop.
	r.client.Disconnect(250)
	slog.Info("remote: mqtt disconnected")
	r.setConnected(false)
	return nil
}

// Stats reports publish counters.
func (r *Remote) Stats() (connected bool, published, failed uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected, r.published, r.failed
}

func (r *Remote) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

func (r *Remote) isConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Remote) countError() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}
