package domain

import "time"

// Severity ranks alert conditions.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Built-in alert condition ids.
const (
	AlertAPIFailures      = "api_failures"
	AlertHighPollution    = "high_pollution"
	AlertExtremePollution = "extreme_pollution"
	AlertQueueBacklog     = "queue_backlog"
	AlertSystemErrorRate  = "system_error_rate"
	AlertStorageUsage     = "storage_usage"
)

// AlertRecord is one triggered alert. Mutable only on acknowledgement and
// delivery bookkeeping.
type AlertRecord struct {
	ID              string
	Type            string
	Severity        Severity
	Payload         map[string]any
	TriggeredAt     time.Time
	ThrottleKey     string
	Acknowledged    bool
	AcknowledgedBy  string
	AcknowledgedAt  *time.Time
	Escalated       bool
	Recipients      []string
	EmailDeliveryID string
	EmailSent       bool
	EmailError      string
}

// ThrottleState tracks per-condition trigger history. An alert with throttle
// key K is suppressed while now-LastTriggeredAt < throttle(K).
type ThrottleState struct {
	LastTriggeredAt time.Time
	Count           int
	Escalated       bool
}

// Message is an outbound email.
type Message struct {
	To      []string
	Subject string
	Body    string
	HTML    bool
}
