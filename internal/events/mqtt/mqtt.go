// internal/events/mqtt/mqtt.go
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/logging"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config is the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Publisher implements events.Emitter over MQTT.
// Emit never waits for the broker; delivery failures are logged.
type Publisher struct {
	client paho.Client
	cfg    Config
	log    *logging.Logger
}

// Connect dials the broker, registers a retained "offline" will and
// announces "online" on <prefix>/status.
func Connect(cfg Config, log *logging.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pzem-poller"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "pzem"
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetWill(statusTopic(cfg.TopicPrefix), "offline", 1, true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to broker: %w", err)
	}

	p := &Publisher{client: client, cfg: cfg, log: log.With("component", "mqtt")}
	p.client.Publish(statusTopic(cfg.TopicPrefix), 1, true, "online")
	return p, nil
}

// Emit publishes e on <prefix>/events/<kind>.
func (p *Publisher) Emit(e events.Event) {
	payload, err := FormatPayload(e)
	if err != nil {
		p.log.Error().Err(err).Msg("format event payload")
		return
	}

	token := p.client.Publish(EventTopic(p.cfg.TopicPrefix, e.Kind), p.cfg.QoS, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn().Str("event", string(e.Kind)).Msg("event publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn().Str("event", string(e.Kind)).Err(err).Msg("event publish failed")
		}
	}()
}

// Close marks the poller offline and disconnects.
func (p *Publisher) Close() error {
	t := p.client.Publish(statusTopic(p.cfg.TopicPrefix), 1, true, "offline")
	t.WaitTimeout(time.Second)
	p.client.Disconnect(1000)
	return nil
}

// EventTopic is the topic events of kind k are published on.
func EventTopic(prefix string, k events.Kind) string {
	return prefix + "/events/" + string(k)
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

// Payload is the JSON body of one event message.
type Payload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Device    string `json:"device,omitempty"`
	Bus       string `json:"bus,omitempty"`
	Address   uint8  `json:"address,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	Count     int    `json:"count,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FormatPayload renders e as JSON.
func FormatPayload(e events.Event) ([]byte, error) {
	p := Payload{
		Event:     string(e.Kind),
		Timestamp: e.At.UTC().Format(time.RFC3339Nano),
		Device:    e.Device,
		Bus:       e.Bus,
		Address:   e.Address,
		BatchID:   e.BatchID,
		Count:     e.Count,
		Attempt:   e.Attempt,
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	return json.Marshal(p)
}
