package queue

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Well-known message headers.
const (
	// HeaderRetryCount carries the number of delivery attempts already made
	// for the payload this message transports. Starts at "0".
	HeaderRetryCount = "x-retry-count"

	// HeaderCorrelationID ties a message to the request that produced it.
	HeaderCorrelationID = "x-correlation-id"
)

// Priority represents message priority (0-100, higher is claimed first).
// Priority ordering is advisory: the broker prefers higher priorities but
// gives no strict ordering guarantee.
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityNormal  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityNormal
)

// Valid checks if the priority is within valid range.
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Message is a unit of work published to a queue. A message is owned by at
// most one consumer at a time: claiming locks it until acked, rejected, or
// the lock expires.
type Message struct {
	ID          uuid.UUID         `json:"id"`
	Queue       string            `json:"queue"`
	Payload     []byte            `json:"payload"`
	Priority    Priority          `json:"priority"`
	Headers     map[string]string `json:"headers,omitempty"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	LockedUntil *time.Time        `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID        `json:"locked_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Header returns the named header value, or "" when absent.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// RetryCount parses the retry-count header. Absent or malformed headers
// count as zero.
func (m *Message) RetryCount() int {
	n, err := strconv.Atoi(m.Header(HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CorrelationID returns the correlation header value, or "" when absent.
func (m *Message) CorrelationID() string {
	return m.Header(HeaderCorrelationID)
}

// DeadLetter is a message that was rejected or expired, parked for manual
// inspection and recovery.
type DeadLetter struct {
	ID        uuid.UUID         `json:"id"`
	MessageID uuid.UUID         `json:"message_id"`
	Queue     string            `json:"queue"`
	Payload   []byte            `json:"payload"`
	Priority  Priority          `json:"priority"`
	Headers   map[string]string `json:"headers,omitempty"`
	Reason    string            `json:"reason"`
	FailedAt  time.Time         `json:"failed_at"`
	CreatedAt time.Time         `json:"created_at"`
}

// Dead-letter reasons recorded by brokers.
const (
	DeadLetterReasonRejected = "rejected"
	DeadLetterReasonExpired  = "expired"
)
