package alerts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

var severityEmoji = map[domain.Severity]string{
	domain.SeverityLow:      "ℹ️",
	domain.SeverityMedium:   "⚠️",
	domain.SeverityHigh:     "🔶",
	domain.SeverityCritical: "🚨",
}

var typeTitles = map[string]string{
	domain.AlertAPIFailures:      "Upstream API failing",
	domain.AlertHighPollution:    "High pollution level",
	domain.AlertExtremePollution: "Extreme pollution level",
	domain.AlertQueueBacklog:     "Queue backlog growing",
	domain.AlertSystemErrorRate:  "Elevated job error rate",
	domain.AlertStorageUsage:     "Storage usage high",
}

// RenderAlertEmail formats an alert record into a deliverable message.
// Pure function, covered directly by tests.
func RenderAlertEmail(rec domain.AlertRecord) domain.Message {
	title, ok := typeTitles[rec.Type]
	if !ok {
		title = rec.Type
	}
	subject := fmt.Sprintf("%s [%s] %s", severityEmoji[rec.Severity],
		strings.ToUpper(string(rec.Severity)), title)
	if rec.Escalated {
		subject = "[ESCALATED] " + subject
	}

	keys := make([]string, 0, len(rec.Payload))
	for k := range rec.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nTriggered at: %s\nAlert ID: %s\n\nDetails:\n",
		title, rec.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"), rec.ID)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, rec.Payload[k])
	}
	if rec.Escalated {
		b.WriteString("\nThis condition has re-triggered repeatedly and was escalated.\n")
	}

	return domain.Message{
		To:      rec.Recipients,
		Subject: subject,
		Body:    b.String(),
	}
}
