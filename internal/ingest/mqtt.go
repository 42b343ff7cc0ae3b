package ingest

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/models"
)

// Handler receives every successfully decoded reading.
type Handler func(models.Reading)

// Config holds broker settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber consumes sensor readings from an MQTT broker.
type Subscriber struct {
	client  mqtt.Client
	cfg     Config
	handler Handler
	logger  *zap.Logger
	now     func() time.Time
}

// NewSubscriber builds a subscriber. Connect starts delivery.
func NewSubscriber(cfg Config, handler Handler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{cfg: cfg, handler: handler, logger: logger, now: time.Now}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	// Resubscribe after every (re)connect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(cfg.Topic, cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
			s.logger.Error("Failed to subscribe", zap.String("topic", cfg.Topic), zap.Error(token.Error()))
			return
		}
		s.logger.Info("Subscribed to sensor topic", zap.String("topic", cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect dials the broker and subscribes.
func (s *Subscriber) Connect() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection.
func (s *Subscriber) Disconnect() {
	s.client.Disconnect(250)
}

// IsConnected reports the connection state.
func (s *Subscriber) IsConnected() bool {
	return s.client.IsConnected()
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.handle(msg.Topic(), msg.Payload())
}

// handle decodes one payload; bad payloads are logged and dropped.
func (s *Subscriber) handle(topic string, payload []byte) {
	r, err := Decode(topic, payload, s.now())
	if err != nil {
		s.logger.Warn("Dropping sensor message", zap.String("topic", topic), zap.Error(err))
		return
	}
	if missing := r.Missing(); len(missing) > 0 {
		s.logger.Debug("Sensor message has missing fields",
			zap.String("source", r.Source), zap.Any("missing", missing))
	}
	s.handler(r)
}
