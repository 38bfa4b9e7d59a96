package asynqadp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

func TestQueueForHomeQueueByKind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, domain.QueueAirQuality, queueFor("", domain.JobFetch, domain.PriorityNormal))
	assert.Equal(t, domain.QueueAggregation, queueFor("", domain.JobAggregateDaily, domain.PriorityLow))
	assert.Equal(t, domain.QueueAlerts, queueFor("", domain.JobSendAlert, domain.PriorityNormal))
	assert.Equal(t, domain.QueueMaintenance, queueFor("", domain.JobCleanup, domain.PriorityLow))
}

func TestQueueForExplicitQueueWins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, domain.QueueMaintenance, queueFor(domain.QueueMaintenance, domain.JobFetch, domain.PriorityHigh))
}

func TestQueueForPromotesUrgentToCritical(t *testing.T) {
	t.Parallel()
	// Urgent and above outrank the explicit queue so a critical alert is
	// claimed ahead of every backlog.
	assert.Equal(t, domain.QueueCritical, queueFor(domain.QueueAlerts, domain.JobSendAlert, domain.PriorityCritical))
	assert.Equal(t, domain.QueueCritical, queueFor("", domain.JobSendAlert, domain.PriorityUrgent))
	assert.Equal(t, domain.QueueAlerts, queueFor(domain.QueueAlerts, domain.JobSendAlert, domain.PriorityHigh))
}

func TestQueueWeightsCoverEveryQueue(t *testing.T) {
	t.Parallel()
	// A queue missing from the weights map is never claimed by the worker.
	for _, q := range []string{
		domain.QueueCritical, domain.QueueAlerts, domain.QueueAirQuality,
		domain.QueueAggregation, domain.QueueMaintenance,
	} {
		assert.Contains(t, QueueWeights, q)
	}
	assert.Greater(t, QueueWeights[domain.QueueCritical], QueueWeights[domain.QueueAlerts])
}
