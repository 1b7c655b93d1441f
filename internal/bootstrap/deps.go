package bootstrap

import (
	"time"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/Domenick1991/cruisebooking/internal/fusion"
	"github.com/Domenick1991/cruisebooking/internal/kafka"
	"github.com/Domenick1991/cruisebooking/internal/repository"
	"github.com/Domenick1991/cruisebooking/internal/service/ownership"
	"github.com/Domenick1991/cruisebooking/internal/service/session"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

func NewTokenManager(cfg config.FusionConfig) *fusion.TokenManager {
	return fusion.NewTokenManager(
		fusion.NewClientCredentialsFetcher(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret),
		fusion.WithTokenBuffer(time.Duration(cfg.TokenBufferSec)*time.Second),
	)
}

func NewFusionClient(cfg config.FusionConfig, tokens fusion.Tokens, logger *logrus.Logger) *fusion.Client {
	return fusion.NewClient(fusion.ClientConfig{
		BaseURL:           cfg.BaseURL,
		SID:               cfg.SID,
		Timeout:           time.Duration(cfg.RequestTimeoutSec) * time.Second,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Backoff: fusion.Backoff{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			MaxJitter:    time.Duration(cfg.Retry.MaxJitterMs) * time.Millisecond,
		},
	}, tokens, logger)
}

// Sessions groups the persistence-backed services every binary shares.
type Sessions struct {
	Store    *session.Store
	Verifier *ownership.Verifier
	Guard    *ownership.Guard
}

// NewSessions wires the repositories into the session store and ownership
// guard. A nil producer disables lifecycle events.
func NewSessions(pool *pgxpool.Pool, producer *kafka.Producer, cfg *config.Config, logger *logrus.Logger) *Sessions {
	activities := repository.NewActivityRepository(pool)
	verifier := ownership.NewVerifier(activities)

	opts := []session.StoreOption{session.WithLogger(logger)}
	if producer != nil {
		opts = append(opts,
			session.WithEvents(producer, cfg.Kafka.SessionEventsTopic),
			session.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		)
	}
	store := session.NewStore(
		repository.NewSessionRepository(pool),
		repository.NewIdempotencyRepository(pool),
		verifier,
		session.Config{
			SessionTTL:           cfg.Booking.SessionTTL(),
			HoldWarning:          cfg.Booking.HoldWarning(),
			IdempotencyRetention: cfg.Booking.IdempotencyRetention(),
		},
		opts...,
	)
	guard := ownership.NewGuard(verifier, activities, store, cfg.Booking.OfferableTripStatuses, ownership.WithLogger(logger))

	return &Sessions{Store: store, Verifier: verifier, Guard: guard}
}
