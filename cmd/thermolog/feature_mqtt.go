//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "thermolog/internal/mqtt"

	"thermolog/internal/events"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(bus *events.Bus, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	pub, err := mqttbridge.NewPahoPublisher(mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt publisher", "err", err)
		return &mqttStopper{}
	}
	bridge := mqttbridge.NewBridge(pub, cfg.MQTT.TopicPrefix, logger)
	bridge.Start(bus)
	return &mqttStopper{bridge: bridge}
}
