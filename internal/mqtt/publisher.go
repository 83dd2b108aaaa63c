package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "alfred"

// ErrNotConnected is returned by [Publisher.PublishCommand] before
// [Publisher.Start] has set up the broker connection.
var ErrNotConnected = errors.New("mqtt publisher not started")

// Config holds the broker connection settings.
type Config struct {
	// Broker is the broker URL, e.g. mqtt://localhost:1883. The mqtts://
	// and ssl:// schemes enable TLS.
	Broker   string
	Username string
	Password string

	// ClientID defaults to "alfred-" plus the host part of the broker URL.
	ClientID string

	// TopicPrefix is the first topic segment for commands and the
	// availability topic.
	TopicPrefix string
}

// publishFunc sends one message. It is the connection manager's Publish
// in production and a recorder in tests.
type publishFunc func(ctx context.Context, msg *paho.Publish) error

// Publisher manages the MQTT connection and publishes command payloads.
type Publisher struct {
	cfg     Config
	logger  *slog.Logger
	cm      *autopaho.ConnectionManager
	publish publishFunc
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to establish the connection.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// Start connects to the broker and returns once the first connection
// is up or 30 seconds have passed; autopaho keeps retrying in the
// background until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if brokerURL.Host == "" {
		return fmt.Errorf("parse mqtt broker URL: missing host in %q", p.cfg.Broker)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(brokerURL),
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.publish = func(ctx context.Context, msg *paho.Publish) error {
		_, err := cm.Publish(ctx, msg)
		return err
	}

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection. The provided context bounds both steps.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return ErrNotConnected
	}
	return p.cm.AwaitConnection(ctx)
}

// PublishCommand sends payload to the command topic for room and
// target at QoS 1. Commands are not retained so a reconnecting device
// does not replay a stale command.
func (p *Publisher) PublishCommand(ctx context.Context, room, target string, payload []byte) error {
	if p.publish == nil {
		return ErrNotConnected
	}
	topic := CommandTopic(p.cfg.TopicPrefix, room, target)
	if err := p.publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	p.logger.Debug("mqtt command published", "topic", topic, "bytes", len(payload))
	return nil
}

// CommandTopic returns <prefix>/<room>/<target>/set, leaving out the
// room segment when room is empty. Segments are lowercased, spaces
// become underscores, and characters that are illegal or special in a
// topic name (/, +, #) are replaced with underscores.
func CommandTopic(prefix, room, target string) string {
	parts := []string{prefix}
	if r := topicSegment(room); r != "" {
		parts = append(parts, r)
	}
	parts = append(parts, topicSegment(target), "set")
	return strings.Join(parts, "/")
}

var segmentReplacer = strings.NewReplacer(" ", "_", "/", "_", "+", "_", "#", "_")

func topicSegment(s string) string {
	return segmentReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) clientID(broker *url.URL) string {
	if p.cfg.ClientID != "" {
		return p.cfg.ClientID
	}
	return "alfred-" + broker.Hostname()
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
