package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbi/analyst/pkg/models"
)

func event(text string, scene models.Scene) models.MemoryEvent {
	return models.MemoryEvent{
		EventType: models.EventTextInput,
		Scene:     scene,
		UserText:  text,
	}
}

func TestAppendAssignsIDAndTS(t *testing.T) {
	r := NewRing(10)
	stored := r.Append(event("hello", models.SceneDashboard))
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.TS.IsZero())
	assert.Equal(t, 1, r.Len())
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append(event(fmt.Sprintf("event %d", i), models.SceneDashboard))
	}
	assert.Equal(t, 3, r.Len())

	recent := r.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "event 4", recent[0].UserText)
	assert.Equal(t, "event 2", recent[2].UserText)
}

func TestRecentNewestFirst(t *testing.T) {
	r := NewRing(10)
	r.Append(event("first", models.SceneDashboard))
	r.Append(event("second", models.SceneDashboard))

	recent := r.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "second", recent[0].UserText)
}

func TestSearchRanksByOverlap(t *testing.T) {
	r := NewRing(10)
	r.Append(event("overdue rate by branch last month", models.SceneDashboard))
	r.Append(event("total loan balance", models.SceneDashboard))
	r.Append(event("overdue loans in the east branch", models.SceneDashboard))

	hits := r.Search("overdue rate", "", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "overdue rate by branch last month", hits[0].UserText)
	for _, h := range hits {
		assert.NotEqual(t, "total loan balance", h.UserText)
	}
}

func TestSearchSceneFilter(t *testing.T) {
	r := NewRing(10)
	r.Append(event("overdue trends", models.SceneDashboard))
	r.Append(event("overdue attribution", models.SceneLoanOps))

	hits := r.Search("overdue", models.SceneLoanOps, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, models.SceneLoanOps, hits[0].Scene)
}

func TestSearchLimit(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 5; i++ {
		r.Append(event("overdue report", models.SceneDashboard))
	}
	hits := r.Search("overdue", "", 2)
	assert.Len(t, hits, 2)
}

func TestSearchMatchesSQLField(t *testing.T) {
	r := NewRing(10)
	r.Append(models.MemoryEvent{
		EventType:     models.EventAnalysisResult,
		Scene:         models.SceneDashboard,
		ResultSummary: "monthly totals",
		SQL:           "SELECT month, SUM(amount) FROM loans GROUP BY month",
	})
	hits := r.Search("loans", "", 10)
	require.Len(t, hits, 1)
}

type upperEnhancer struct{}

func (upperEnhancer) Enhance(_ string, hits []models.MemoryEvent) []models.MemoryEvent {
	for i := range hits {
		hits[i].ResultSummary = "enhanced"
	}
	return hits
}

func TestEnhancerHook(t *testing.T) {
	r := NewRing(10, WithEnhancer(upperEnhancer{}))
	r.Append(event("overdue", models.SceneDashboard))
	hits := r.Search("overdue", "", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "enhanced", hits[0].ResultSummary)
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	r := NewRing(10)
	older := event("overdue summary", models.SceneDashboard)
	older.TS = time.Now().Add(-time.Hour)
	r.Append(older)
	r.Append(event("overdue summary", models.SceneDashboard))

	hits := r.Search("overdue summary", "", 2)
	require.Len(t, hits, 2)
	assert.True(t, hits[0].TS.After(hits[1].TS))
}
