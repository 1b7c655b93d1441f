package domain

import (
	"encoding/json"
	"time"
)

type IdempotencyStatus string

const (
	IdempotencyPending IdempotencyStatus = "pending"
	IdempotencySuccess IdempotencyStatus = "success"
	IdempotencyFailed  IdempotencyStatus = "failed"
)

// IdempotencyRecord guards one client-supplied booking submission key.
type IdempotencyRecord struct {
	Key              string
	ActivityID       int64
	UserID           int64
	Status           IdempotencyStatus
	BookingReference *string
	ResponsePayload  json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IdempotencyOutcome is the terminal result written once per attempt.
type IdempotencyOutcome struct {
	Status           IdempotencyStatus
	BookingReference *string
	ResponsePayload  json.RawMessage
}
