package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the subset of mqtt.Client used by BusSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// BusSink publishes every event as JSON on <prefix>/<site_id>/<status>.
type BusSink struct {
	client  Publisher
	prefix  string
	timeout time.Duration
}

// NewBusSink creates a sink publishing under prefix.
func NewBusSink(client Publisher, prefix string) *BusSink {
	return &BusSink{client: client, prefix: prefix, timeout: 5 * time.Second}
}

// ConnectMQTT connects a client to broker.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return client, nil
}

// Name identifies the sink in logs and metrics.
func (s *BusSink) Name() string { return "mqtt" }

// Topic returns the topic an event is published on.
func (s *BusSink) Topic(n Notification) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, n.Event.SiteID, n.Event.To)
}

// Deliver publishes the event with QoS 1 and waits for the broker until
// ctx ends or the sink's own timeout passes.
func (s *BusSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	token := s.client.Publish(s.Topic(n), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish to %s timed out: %w", s.Topic(n), ctx.Err())
	}
}
