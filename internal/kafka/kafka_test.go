package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type queuedReader struct {
	msgs []kafka.Message
}

func (r *queuedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *queuedReader) Close() error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestProducer_PublishEncodesEvent(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w, logger: quietLogger()}

	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	s := &domain.BookingSession{ID: "s-1", ActivityID: 7, UserID: 3, FlowType: domain.FlowAgent, Status: domain.SessionStatusCompleted, BookingReference: "BK-1"}
	require.NoError(t, p.Publish(context.Background(), "sessions", s.ID, NewSessionEvent(EventSessionCompleted, s, at)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "sessions", w.msgs[0].Topic)
	assert.Equal(t, "s-1", string(w.msgs[0].Key))

	var got SessionEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, EventSessionCompleted, got.Type)
	assert.Equal(t, "BK-1", got.BookingReference)
	assert.Equal(t, "completed", got.Status)
	assert.True(t, at.Equal(got.OccurredAt))
}

func TestProducer_PublishWrapsWriterError(t *testing.T) {
	p := &Producer{writer: &recordingWriter{err: errors.New("no leader")}, logger: quietLogger()}
	err := p.Publish(context.Background(), "sessions", "k", map[string]string{})
	assert.ErrorContains(t, err, "no leader")
}

func TestConsumer_SkipsUndecodableMessages(t *testing.T) {
	good, _ := json.Marshal(SessionEvent{Type: EventSessionHandoff, SessionID: "s-2"})
	c := &Consumer{
		reader: &queuedReader{msgs: []kafka.Message{{Value: []byte("{not json")}, {Value: good}}},
		logger: quietLogger(),
	}

	var seen []SessionEvent
	err := c.ConsumeSessionEvents(context.Background(), func(_ context.Context, e SessionEvent) error {
		seen = append(seen, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "s-2", seen[0].SessionID)
}

func TestConsumer_StopsOnHandlerError(t *testing.T) {
	good, _ := json.Marshal(SessionEvent{Type: EventSessionCreated})
	c := &Consumer{reader: &queuedReader{msgs: []kafka.Message{{Value: good}}}, logger: quietLogger()}

	err := c.ConsumeSessionEvents(context.Background(), func(context.Context, SessionEvent) error {
		return errors.New("smtp down")
	})
	assert.ErrorContains(t, err, "smtp down")
}
