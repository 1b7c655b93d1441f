package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionCancelled EventType = "session_cancelled"
	EventSessionExpired   EventType = "session_expired"
	EventSessionCompleted EventType = "session_completed"
	EventSessionHandoff   EventType = "session_handoff"
)

// SessionEvent is published on every booking session transition.
type SessionEvent struct {
	Type             EventType `json:"type"`
	SessionID        string    `json:"session_id"`
	ActivityID       int64     `json:"activity_id"`
	UserID           int64     `json:"user_id"`
	TripID           *int64    `json:"trip_id,omitempty"`
	HandoffUserID    *int64    `json:"handoff_user_id,omitempty"`
	FlowType         string    `json:"flow_type"`
	Status           string    `json:"status"`
	BookingReference string    `json:"booking_reference,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func NewSessionEvent(eventType EventType, s *domain.BookingSession, at time.Time) SessionEvent {
	return SessionEvent{
		Type:             eventType,
		SessionID:        s.ID,
		ActivityID:       s.ActivityID,
		UserID:           s.UserID,
		TripID:           s.TripID,
		HandoffUserID:    s.HandoffUserID,
		FlowType:         string(s.FlowType),
		Status:           string(s.Status),
		BookingReference: s.BookingReference,
		OccurredAt:       at,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	brokers []string
	writer  messageWriter
	logger  *logrus.Logger
}

func NewProducer(brokers []string, logger *logrus.Logger) *Producer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{brokers: brokers, writer: writer, logger: logger}
}

// Publish writes payload as JSON. Messages sharing a key land on the same
// partition, so events of one session stay ordered.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message to %s: %w", topic, err)
	}

	p.logger.WithFields(logrus.Fields{"topic": topic, "key": key}).Debug("published event")
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// CheckConnection dials the first broker and lists partitions.
func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("read partitions: %w", err)
	}
	return nil
}
