// Package dispatcher owns the MQTT side of the pipeline: the broker client,
// the wildcard subscriptions, hub-id extraction and the bounded worker pool
// that drains inbound messages into the router.
package dispatcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	config "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Config"
	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
)

const (
	// topicLegacyData is the fire-and-forget sensor feed.
	topicLegacyData = "hub/+/data"
	// topicDeviceSend carries reports, disconnects and reconciliation traffic.
	topicDeviceSend = "hub/+/send"
)

type topicKind int

const (
	topicKindData topicKind = iota
	topicKindSend
)

// inbound is one message queued for a worker.
type inbound struct {
	kind       topicKind
	hubID      string
	payload    []byte
	receivedAt time.Time
}

// Dispatcher connects to the broker, subscribes to both hub feeds and fans
// messages out to a fixed worker pool over a bounded queue. When the queue is
// full the message is dropped; the hubs resend pending state on their next
// report cycle.
type Dispatcher struct {
	cfg    *config.MQTTConfig
	router *Router
	client mqtt.Client
	queue  chan inbound
	wg     sync.WaitGroup
	logger *logger.Logger
}

func New(cfg *config.MQTTConfig, router *Router, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		router: router,
		queue:  make(chan inbound, cfg.QueueSize),
		logger: log.WithComponent("dispatcher"),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(d.brokerURL()).
		SetClientID(d.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(d.cfg.KeepAlive).
		SetPingTimeout(d.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if d.cfg.BrokerUser != "" {
		opts.SetUsername(d.cfg.BrokerUser)
		opts.SetPassword(d.cfg.BrokerPass)
	}

	if d.cfg.UseTLS {
		tlsCfg, err := d.tlsConfig(d.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		d.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		d.logger.Logger.Info().Msg("MQTT connected, subscribing to hub feeds")
		if token := c.Subscribe(topicLegacyData, 0, d.onMessage); token.Wait() && token.Error() != nil {
			d.logger.Logger.Error().Err(token.Error()).Str("topic", topicLegacyData).Msg("Failed to subscribe")
		}
		if token := c.Subscribe(topicDeviceSend, 1, d.onMessage); token.Wait() && token.Error() != nil {
			d.logger.Logger.Error().Err(token.Error()).Str("topic", topicDeviceSend).Msg("Failed to subscribe")
		}
	}

	d.client = mqtt.NewClient(opts)
	if tk := d.client.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx)
		}()
	}

	return nil
}

func (d *Dispatcher) Stop() {
	if d.client != nil && d.client.IsConnected() {
		d.client.Disconnect(500)
	}
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) IsConnected() bool {
	return d.client != nil && d.client.IsConnected()
}

// Publish sends one payload at QoS 1. Returns false when the broker is not
// connected or the publish fails; the caller decides whether that matters.
func (d *Dispatcher) Publish(topic string, payload []byte) bool {
	if d.client == nil || !d.client.IsConnected() {
		return false
	}
	token := d.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		d.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Publish failed")
		return false
	}
	return true
}

// SendCommand publishes a control payload to a hub's command topic.
func (d *Dispatcher) SendCommand(hubID string, payload []byte) bool {
	return d.Publish(fmt.Sprintf("hub/%s/receive", hubID), payload)
}

func (d *Dispatcher) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg, ok := classifyTopic(m.Topic())
	if !ok {
		d.logger.Logger.Warn().Str("topic", m.Topic()).Str("expected", "hub/<hub_id>/data|send").Msg("Dropping message with malformed topic")
		return
	}

	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())
	msg.payload = payload
	msg.receivedAt = time.Now().UTC()

	select {
	case d.queue <- msg:
	default:
		d.logger.Logger.Error().Str("topic", m.Topic()).Int("queue_size", d.cfg.QueueSize).Msg("Work queue full, dropping message")
	}
}

// classifyTopic extracts the hub id and feed kind from a subscription match.
func classifyTopic(topic string) (inbound, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "hub" || parts[1] == "" {
		return inbound{}, false
	}
	switch parts[2] {
	case "data":
		return inbound{kind: topicKindData, hubID: parts[1]}, true
	case "send":
		return inbound{kind: topicKindSend, hubID: parts[1]}, true
	}
	return inbound{}, false
}

func (d *Dispatcher) worker(ctx context.Context) {
	for msg := range d.queue {
		d.router.Route(ctx, msg)
	}
}

func (d *Dispatcher) brokerURL() string {
	scheme := "tcp"
	if d.cfg.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, d.cfg.BrokerHost, d.cfg.BrokerPort)
}

func (d *Dispatcher) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
