//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds broker settings.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// PahoPublisher publishes to a real broker. The bridge state topic carries
// "online" while connected and "offline" via the last will.
type PahoPublisher struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
}

// NewPahoPublisher connects to the broker in cfg.
func NewPahoPublisher(cfg Config, logger *slog.Logger) (*PahoPublisher, error) {
	p := &PahoPublisher{
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "thermolog"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(StateTopic(cfg.TopicPrefix), "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			p.logger.Info("MQTT connected")
			p.publishAsync(c, StateTopic(p.prefix), []byte("online"))
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	p.client = client
	return p, nil
}

// Publish sends payload with QoS 1 and waits for the broker to acknowledge it.
func (p *PahoPublisher) Publish(topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close publishes the offline state and disconnects.
func (p *PahoPublisher) Close() error {
	err := p.Publish(StateTopic(p.prefix), []byte("offline"), true)
	p.client.Disconnect(1000)
	return err
}

// publishAsync is used from paho callbacks, which must not block on tokens.
func (p *PahoPublisher) publishAsync(c pahomqtt.Client, topic string, payload []byte) {
	token := c.Publish(topic, 1, true, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn("MQTT publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

var _ Publisher = (*PahoPublisher)(nil)
