package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"homie-controller/internal/controller"
	"homie-controller/internal/metrics"
)

// Config holds MQTT transport configuration.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Transport feeds the broker's view of the base topic into the
// controller and performs the controller's outbound set publishes. It
// subscribes to <base>/# on every (re)connect so the retained replay
// rebuilds the model from scratch after a connection loss.
type Transport struct {
	client pahomqtt.Client
	ctrl   *controller.Controller
	logger *slog.Logger
}

// NewTransport creates and connects an MQTT transport.
func NewTransport(ctrl *controller.Controller, cfg Config, logger *slog.Logger) (*Transport, error) {
	t := &Transport{
		ctrl:   ctrl,
		logger: logger.With("component", "mqtt"),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "homie-controller"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			t.logger.Info("MQTT connected", "broker", cfg.Broker)
			metrics.MQTTConnected.Set(1)
			t.subscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			t.logger.Warn("MQTT connection lost", "err", err)
			metrics.MQTTConnected.Set(0)
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

	t.client = client
	return t, nil
}

func (t *Transport) subscribe() {
	filter := t.ctrl.Base() + "/#"
	token := t.client.Subscribe(filter, 1, t.handleMessage)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			t.logger.Warn("MQTT subscribe timeout", "filter", filter)
		} else if err := token.Error(); err != nil {
			t.logger.Error("MQTT subscribe", "filter", filter, "err", err)
		} else {
			t.logger.Info("subscribed", "filter", filter)
		}
	}()
}

func (t *Transport) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	metrics.MessagesTotal.Inc()
	if err := t.ctrl.ApplyUpdate(msg.Topic(), string(msg.Payload()), msg.Retained()); err != nil {
		// Bad payloads discard one update, never the stream.
		t.logger.Warn("discarding update", "topic", msg.Topic(), "err", err)
	}
}

// SetProperty validates a set request against the model and publishes
// it. The model itself stays untouched until the device echoes the new
// value.
func (t *Transport) SetProperty(deviceID, nodeID, propertyID, value string) error {
	req, err := t.ctrl.SetProperty(deviceID, nodeID, propertyID, value)
	if err != nil {
		return err
	}
	t.publish(req)
	t.logger.Info("set property", "topic", req.Topic, "value", value)
	return nil
}

func (t *Transport) publish(req controller.PublishRequest) {
	token := t.client.Publish(req.Topic, req.QoS, req.Retained, req.Payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			t.logger.Warn("MQTT publish timeout", "topic", req.Topic)
		} else if err := token.Error(); err != nil {
			t.logger.Warn("MQTT publish error", "topic", req.Topic, "err", err)
		}
	}()
}

// Connected reports whether the broker link is currently up.
func (t *Transport) Connected() bool {
	return t.client != nil && t.client.IsConnectionOpen()
}

// Stop disconnects from the broker.
func (t *Transport) Stop() {
	if t.client != nil {
		t.client.Disconnect(1000)
	}
	metrics.MQTTConnected.Set(0)
	t.logger.Info("MQTT transport stopped")
}
