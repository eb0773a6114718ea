package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQoS            = 1
)

// mqttPublisher is the part of mqtt.Client the mirror uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTMirror republishes completion events to an MQTT topic so downstream
// systems (care dashboards, device hubs) can follow assessments. Payloads
// carry the event only, never the subject identity.
type MQTTMirror struct {
	client    mqttPublisher
	topic     string
	connected atomic.Bool
	logger    logger.Logger
}

// ConnectMQTT dials broker and returns a mirror publishing to topic.
func ConnectMQTT(ctx context.Context, broker, clientID, topic string, log logger.Logger) (*MQTTMirror, error) {
	if log == nil {
		log = logger.Nop()
	}
	m := &MQTTMirror{topic: topic, logger: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.connected.Store(true)
		log.Info(ctx, "mqtt connection established", logger.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		log.Warn(ctx, "mqtt connection lost, will auto-reconnect", logger.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	m.client = client
	m.connected.Store(true)
	return m, nil
}

// newMQTTMirror wraps an existing client.
func newMQTTMirror(client mqttPublisher, topic string) *MQTTMirror {
	m := &MQTTMirror{client: client, topic: topic, logger: logger.Nop()}
	m.connected.Store(true)
	return m
}

// Publish sends the event JSON to the mirror topic.
func (m *MQTTMirror) Publish(_ context.Context, n model.Notification) error { //nolint:gocritic // hugeParam: matches Publisher
	if !m.connected.Load() {
		return ErrNotConnected
	}
	payload, err := n.Event.Encode()
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close disconnects from the broker.
func (m *MQTTMirror) Close() {
	m.connected.Store(false)
	m.client.Disconnect(250)
}
