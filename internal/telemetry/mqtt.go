// Package telemetry publishes session and player lifecycle events to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/util"
)

// Topic suffixes appended to the configured prefix.
const (
	TopicSession = "session"
	TopicPlayer  = "player"
	TopicChat    = "chat"
	TopicStatus  = "status"
	TopicAdmin   = "admin"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// MQTTHandler forwards bus events to the broker as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	players  *players.Manager
	client   mqtt.Client

	// send delivers one encoded message. It is the broker client outside tests.
	send func(topic string, data []byte)

	// Metadata included in every message.
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for the configured broker. It does not
// connect until Start.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, pm *players.Manager) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	h := newHandler(mqttCfg, eventBus, pm)

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("blockgate-%s", h.metadata["hostname"]))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.send = h.publishToBroker
	return h, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, pm *players.Manager) *MQTTHandler {
	info := util.GetHostInfo()
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		players:  pm,
		metadata: map[string]interface{}{
			"hostname":   info.Hostname,
			"os":         info.OS,
			"go_version": info.GoVersion,
		},
	}
}

// Start connects to the broker, subscribes to the bus and publishes a status
// message periodically until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	interval := time.Duration(h.cfg.StatusSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.PublishStatus()
		}
	}
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeAll([]events.EventType{
		events.EventSessionOpened,
		events.EventSessionClosed,
	}, "mqtt.session", h.onEvent(TopicSession))
	h.eventBus.SubscribeAll([]events.EventType{
		events.EventPlayerJoin,
		events.EventPlayerLeave,
		events.EventPlayerKick,
	}, "mqtt.player", h.onEvent(TopicPlayer))
	h.eventBus.SubscribeAll([]events.EventType{
		events.EventPlayerChat,
		events.EventPlayerCommand,
	}, "mqtt.chat", h.onEvent(TopicChat))
	h.eventBus.Subscribe(events.EventHealthChanged, "mqtt.health", h.onEvent(TopicAdmin))
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

func (h *MQTTHandler) onEvent(suffix string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(suffix, map[string]interface{}{
			"event":   string(event.Type),
			"source":  event.Source,
			"time":    event.Time.UTC().Format(time.RFC3339),
			"payload": event.Payload,
		})
		return nil
	}
}

// publish encodes payload with the metadata and hands it to send.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	topic := h.topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	h.send(topic, data)
}

func (h *MQTTHandler) publishToBroker(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}
	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishStatus sends the online player count and host load.
func (h *MQTTHandler) PublishStatus() {
	online := 0
	if h.players != nil {
		online = h.players.Count()
	}
	h.publish(TopicStatus, map[string]interface{}{
		"online": online,
		"load":   util.GetHostLoad(""),
	})
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": string(events.EventShutdown),
	})
}
