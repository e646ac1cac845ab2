package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	fdd "ahu-fdd/internal/fdd/domain"
)

const connectTimeout = 10 * time.Second

// Sink receives the latest value of a point.
type Sink interface {
	Put(ref fdd.PointRef, value float64, at time.Time)
}

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Subscriber listens on one topic per bound point reference and forwards values to a sink.
type Subscriber struct {
	client paho.Client
	sink   Sink
	qos    byte
	logger logrus.FieldLogger

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewSubscriber wraps an already connected client.
func NewSubscriber(client paho.Client, sink Sink, qos byte, logger logrus.FieldLogger) *Subscriber {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Subscriber{
		client: client,
		sink:   sink,
		qos:    qos,
		logger: logger.WithField("component", "mqtt-subscriber"),
		topics: make(map[string]struct{}),
	}
}

// Connect dials the broker. Subscriptions are restored on every reconnect.
func Connect(opts Options, sink Sink, logger logrus.FieldLogger) (*Subscriber, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: broker required")
	}
	if sink == nil {
		return nil, errors.New("mqtt: nil sink")
	}
	s := NewSubscriber(nil, sink, opts.QoS, logger)

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(paho.Client) {
			if err := s.resubscribe(); err != nil {
				s.logger.WithError(err).Error("resubscribe failed")
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.WithError(err).Warn("broker connection lost")
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	s.client = paho.NewClient(clientOpts)

	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}
	s.logger.WithField("broker", opts.Broker).Info("mqtt connected")
	return s, nil
}

// Subscribe adds point references as topics.
func (s *Subscriber) Subscribe(refs ...fdd.PointRef) error {
	filters := make(map[string]byte, len(refs))
	s.mu.Lock()
	for _, ref := range refs {
		topic := string(ref)
		if _, ok := s.topics[topic]; ok {
			continue
		}
		s.topics[topic] = struct{}{}
		filters[topic] = s.qos
	}
	s.mu.Unlock()
	return s.subscribe(filters)
}

// Unsubscribe removes topics.
func (s *Subscriber) Unsubscribe(refs ...fdd.PointRef) error {
	topics := make([]string, 0, len(refs))
	s.mu.Lock()
	for _, ref := range refs {
		if _, ok := s.topics[string(ref)]; ok {
			delete(s.topics, string(ref))
			topics = append(topics, string(ref))
		}
	}
	s.mu.Unlock()
	if len(topics) == 0 || s.client == nil || !s.client.IsConnected() {
		return nil
	}
	token := s.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

func (s *Subscriber) resubscribe() error {
	s.mu.Lock()
	filters := make(map[string]byte, len(s.topics))
	for topic := range s.topics {
		filters[topic] = s.qos
	}
	s.mu.Unlock()
	return s.subscribe(filters)
}

func (s *Subscriber) subscribe(filters map[string]byte) error {
	if len(filters) == 0 || s.client == nil || !s.client.IsConnected() {
		return nil
	}
	token := s.client.SubscribeMultiple(filters, s.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe: %w", err)
	}
	s.logger.WithField("topics", len(filters)).Debug("subscribed")
	return nil
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	value, at, err := decodePayload(msg.Payload())
	if err != nil {
		s.logger.WithField("topic", msg.Topic()).WithError(err).Warn("dropping point message")
		return
	}
	s.sink.Put(fdd.PointRef(msg.Topic()), value, at)
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

type pointPayload struct {
	Value     *float64  `json:"value"`
	Timestamp time.Time `json:"ts"`
}

// decodePayload accepts a bare number or a JSON object {"value": 1.2, "ts": "..."}.
func decodePayload(payload []byte) (float64, time.Time, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, time.Time{}, errors.New("empty payload")
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, time.Time{}, fmt.Errorf("non-finite value %q", text)
		}
		return v, time.Time{}, nil
	}
	var p pointPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return 0, time.Time{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Value == nil {
		return 0, time.Time{}, errors.New("payload has no value")
	}
	return *p.Value, p.Timestamp.UTC(), nil
}
