// Package mqttpub mirrors session samples and status changes to an MQTT
// broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/metrics"
	"lostwheel-gateway/internal/session"
)

const queueSize = 1024

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	retained bool
	payload  any
}

// Publisher queues observations and publishes them from Run. Observe calls
// never block; when the queue is full the message is dropped.
type Publisher struct {
	client  Client
	prefix  string
	timeout time.Duration
	queue   chan message
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(client Client, prefix string, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		queue:   make(chan message, queueSize),
		log:     log,
		metrics: m,
	}
}

// Dial connects to broker and returns the connected client.
func Dial(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return c, nil
}

// SampleTopic is where samples of a session are published.
func (p *Publisher) SampleTopic(sessionID string) string {
	return p.prefix + "/" + sessionID + "/samples"
}

// StatusTopic carries the retained latest status of a session.
func (p *Publisher) StatusTopic(sessionID string) string {
	return p.prefix + "/" + sessionID + "/status"
}

func (p *Publisher) enqueue(m message) {
	select {
	case p.queue <- m:
	default:
		p.metrics.PublishDropped("mqtt")
	}
}

func (p *Publisher) ObserveSample(sessionID string, s data.Sample) {
	p.enqueue(message{topic: p.SampleTopic(sessionID), payload: s})
}

func (p *Publisher) ObserveStatus(st session.Status) {
	p.enqueue(message{topic: p.StatusTopic(st.ID), retained: true, payload: st})
}

// Run publishes queued messages until ctx is done, then disconnects.
func (p *Publisher) Run(ctx context.Context) {
	defer p.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.queue:
			p.publish(m)
		}
	}
}

func (p *Publisher) publish(m message) {
	payload, err := json.Marshal(m.payload)
	if err != nil {
		p.log.Error("marshal mqtt payload", slog.String("topic", m.topic), slog.Any("err", err))
		return
	}
	token := p.client.Publish(m.topic, 0, m.retained, payload)
	if !token.WaitTimeout(p.timeout) {
		p.log.Warn("mqtt publish timed out", slog.String("topic", m.topic))
		p.metrics.PublishDropped("mqtt")
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", slog.String("topic", m.topic), slog.Any("err", err))
		p.metrics.PublishDropped("mqtt")
	}
}
