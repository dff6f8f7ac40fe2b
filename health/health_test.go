package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolffiex/peakcache/store"
)

func TestAnalyzeHealthyStore(t *testing.T) {
	report := NewAnalyzer().Analyze(store.Stats{Total: 100, Expired: 5})

	assert.Equal(t, StatusOK, report.OverallStatus)
	assert.Equal(t, "Cache is healthy", report.Summary)
	assert.Empty(t, report.Signals)
}

func TestAnalyzeExpiredBacklog(t *testing.T) {
	report := NewAnalyzer().Analyze(store.Stats{Total: 100, Expired: 60})

	assert.Equal(t, StatusDegraded, report.OverallStatus)
	assert.Len(t, report.Signals, 1)
	assert.Len(t, report.Recommendations, 1)
}

func TestAnalyzeAllExpiredEscalatesToCritical(t *testing.T) {
	report := NewAnalyzer().Analyze(store.Stats{Total: 40, Expired: 40})

	assert.Equal(t, StatusCritical, report.OverallStatus)
	assert.Len(t, report.Signals, 2, "backlog and all-expired rules both trigger")
}

func TestAnalyzeEmptyStoreIsHealthy(t *testing.T) {
	report := NewAnalyzer().Analyze(store.Stats{})

	assert.Equal(t, StatusOK, report.OverallStatus)
}

func TestExpiredBacklogRuleIgnoresTinyStores(t *testing.T) {
	// A couple of expired rows in a near-empty table is normal churn.
	result := ExpiredBacklogRule(store.Stats{Total: 3, Expired: 2})
	assert.False(t, result.Triggered)
}
