package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-supervisor/supervisor"
)

// defaultClientID derives a stable MQTT client ID from the machine ID.
func defaultClientID() string {
	id, err := machineid.ProtectedID("modemchat")
	if err != nil {
		id = uuid.Must(uuid.NewV4()).String()
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "modemchat-" + id
}

// Interface guard: ensure mqttRunner implements supervisor.Runnable
var _ supervisor.Runnable = (*mqttRunner)(nil)

// mqttRunner queues send requests received on a topic and publishes the
// modem's unsolicited result codes.
type mqttRunner struct {
	logger   *slog.Logger
	queue    Queue
	urcs     <-chan string
	topic    string
	urcTopic string
	client   paho.Client
}

func newMQTTRunner(logger *slog.Logger, config *Config, queue Queue, urcs <-chan string) *mqttRunner {
	r := &mqttRunner{
		logger:   logger,
		queue:    queue,
		urcs:     urcs,
		topic:    config.MQTTTopic,
		urcTopic: config.MQTTURCTopic,
	}

	clientID := config.MQTTClientID
	if clientID == "" {
		clientID = defaultClientID()
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(config.MQTTBroker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if config.MQTTUsername != "" {
		opts.SetUsername(config.MQTTUsername)
		opts.SetPassword(config.MQTTPassword)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		r.logger.Warn("MQTT connection lost", "error", err)
	})
	// Subscriptions are not kept across clean sessions, so subscribe on
	// every (re)connect.
	opts.SetOnConnectHandler(r.onConnect)

	r.client = paho.NewClient(opts)
	return r
}

func (r *mqttRunner) String() string {
	return "MQTT"
}

func (r *mqttRunner) onConnect(c paho.Client) {
	r.logger.Info("MQTT connected, subscribing", "topic", r.topic)
	token := c.Subscribe(r.topic, 1, func(_ paho.Client, m paho.Message) {
		if err := r.handlePayload(m.Payload()); err != nil {
			r.logger.Warn("Rejected MQTT send request", "topic", m.Topic(), "error", err)
		}
	})
	if token.Wait() && token.Error() != nil {
		r.logger.Error("MQTT subscribe failed", "topic", r.topic, "error", token.Error())
	}
}

// handlePayload queues one JSON send request of the form
// {"id": "...", "to": "...", "message": "..."}. The id is optional.
func (r *mqttRunner) handlePayload(payload []byte) error {
	var req struct {
		ID      string `json:"id"`
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}

	id, err := r.queue.Enqueue(req.ID, req.To, req.Message)
	if err != nil {
		return err
	}
	r.logger.Info("SMS queued", "id", id, "to", req.To, "source", "mqtt")
	return nil
}

// Run implements the Runnable interface
func (r *mqttRunner) Run(ctx context.Context) error {
	token := r.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}

	urcs := r.urcs
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return nil
		case urc, ok := <-urcs:
			if !ok {
				urcs = nil
				continue
			}
			r.publish(urc)
		}
	}
}

func (r *mqttRunner) publish(urc string) {
	if r.urcTopic == "" {
		return
	}
	// Publishing is fire and forget; paho queues while reconnecting.
	r.client.Publish(r.urcTopic, 0, false, urc)
	r.logger.Debug("URC published", "topic", r.urcTopic, "urc", urc)
}

// Stop implements the Runnable interface
func (r *mqttRunner) Stop() {
	if r.client.IsConnected() {
		r.client.Disconnect(250)
	}
}
