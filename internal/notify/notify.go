package notify

import (
	"context"
	"fmt"

	"github.com/Domenick1991/cruisebooking/internal/kafka"
	"github.com/sirupsen/logrus"
)

// Message is one notification ready for delivery.
type Message struct {
	RecipientUserID int64
	Subject         string
	Body            string
}

// Sender turns session events into user notifications. Delivery is a
// structured log line; a mail or push transport plugs in behind Deliver.
type Sender struct {
	logger  *logrus.Logger
	Deliver func(ctx context.Context, msg Message) error
}

func NewSender(logger *logrus.Logger) *Sender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Sender{logger: logger}
	s.Deliver = s.logDelivery
	return s
}

// Compose builds the notification for event. Events nobody is told about
// return ok=false.
func Compose(event kafka.SessionEvent) (Message, bool) {
	switch event.Type {
	case kafka.EventSessionHandoff:
		if event.HandoffUserID == nil {
			return Message{}, false
		}
		return Message{
			RecipientUserID: *event.HandoffUserID,
			Subject:         "Your cruise proposal is ready",
			Body:            fmt.Sprintf("Your agent has selected a cabin for activity %d. Review it before the hold expires.", event.ActivityID),
		}, true
	case kafka.EventSessionCompleted:
		return Message{
			RecipientUserID: event.UserID,
			Subject:         fmt.Sprintf("Booking %s confirmed", event.BookingReference),
			Body:            fmt.Sprintf("Activity %d was booked with reference %s.", event.ActivityID, event.BookingReference),
		}, true
	}
	return Message{}, false
}

func (s *Sender) Send(ctx context.Context, event kafka.SessionEvent) error {
	msg, ok := Compose(event)
	if !ok {
		return nil
	}
	return s.Deliver(ctx, msg)
}

func (s *Sender) logDelivery(_ context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"user_id": msg.RecipientUserID,
		"subject": msg.Subject,
	}).Info(msg.Body)
	return nil
}
