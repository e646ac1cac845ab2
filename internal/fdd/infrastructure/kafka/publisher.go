package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	fdd "ahu-fdd/internal/fdd/domain"
)

const eventType = "fdd.alarm_transition"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Envelope is the payload published for every alarm transition.
type Envelope struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	EquipmentID string         `json:"equipment_id"`
	RuleID      fdd.RuleID     `json:"rule_id"`
	From        fdd.AlarmState `json:"from"`
	To          fdd.AlarmState `json:"to"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// AlarmPublisher publishes transitions to a Kafka topic keyed by equipment id, so the
// transitions of one equipment stay ordered within a partition.
type AlarmPublisher struct {
	writer messageWriter
	newID  func() string
}

// NewAlarmPublisher constructs a publisher over the given brokers.
func NewAlarmPublisher(brokers []string, topic string) (*AlarmPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: brokers required")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: topic required")
	}
	return newAlarmPublisher(&kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		Async:        false,
	}), nil
}

func newAlarmPublisher(writer messageWriter) *AlarmPublisher {
	return &AlarmPublisher{writer: writer, newID: func() string { return uuid.NewString() }}
}

// WriteAlarm implements application.AlarmWriter.
func (p *AlarmPublisher) WriteAlarm(ctx context.Context, transition fdd.AlarmTransition) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher: nil writer")
	}
	envelope := Envelope{
		EventID:     p.newID(),
		Type:        eventType,
		EquipmentID: transition.EquipmentID,
		RuleID:      transition.RuleID,
		From:        transition.From,
		To:          transition.To,
		OccurredAt:  transition.At.UTC(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(transition.EquipmentID),
		Value: payload,
		Time:  envelope.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "event_id", Value: []byte(envelope.EventID)},
		},
	})
}

// Close flushes and closes the writer.
func (p *AlarmPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
