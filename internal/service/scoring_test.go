package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

var scoringEpoch = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func app(status models.ApplicationStatus, changedAfter time.Duration) models.Application {
	a := models.Application{Status: status, CreatedAt: scoringEpoch}
	if changedAfter > 0 {
		changed := scoringEpoch.Add(changedAfter)
		a.StatusChangedAt = &changed
	}
	return a
}

func seconds(v float64) *float64 { return &v }

func TestComputeTrustIndexNoApplications(t *testing.T) {
	score := ComputeTrustIndex(nil)
	assert.Equal(t, 100.0, score.Value)
	assert.Zero(t, score.AvgResponseHours)
	assert.Zero(t, score.ConfirmationRate)
}

func TestComputeTrustIndexPenaltiesStack(t *testing.T) {
	// 10 applications: 1 completed, 1 paid, 2 confirmed, 6 new; everything changed after 50h
	var apps []models.Application
	apps = append(apps, app(models.StatusCompleted, 50*time.Hour))
	apps = append(apps, app(models.StatusPaid, 50*time.Hour))
	apps = append(apps, app(models.StatusConfirmed, 50*time.Hour), app(models.StatusConfirmed, 50*time.Hour))
	for i := 0; i < 6; i++ {
		apps = append(apps, app(models.StatusNew, 50*time.Hour))
	}

	score := ComputeTrustIndex(apps)
	assert.Equal(t, 40.0, score.ConfirmationRate)
	assert.Equal(t, 20.0, score.PaymentRate)
	assert.Equal(t, 10.0, score.CompletionRate)
	assert.Equal(t, 50.0, score.AvgResponseHours)
	assert.Equal(t, 50.0, score.AvgProcessingDelay)
	assert.Equal(t, 15.0, score.Value)
}

func TestComputeTrustIndexBonusesCapped(t *testing.T) {
	apps := []models.Application{
		app(models.StatusCompleted, time.Hour),
		app(models.StatusCompleted, 2*time.Hour),
		app(models.StatusCompleted, 3*time.Hour),
	}
	score := ComputeTrustIndex(apps)
	assert.Equal(t, 100.0, score.Value)
	assert.Equal(t, 2.0, score.AvgResponseHours)
}

func TestComputeTrustIndexMiddleBands(t *testing.T) {
	// 60% confirmed, 40% paid, 20% completed, changed after 30h
	apps := []models.Application{
		app(models.StatusCompleted, 30*time.Hour),
		app(models.StatusPaid, 30*time.Hour),
		app(models.StatusConfirmed, 30*time.Hour),
		app(models.StatusCancelled, 30*time.Hour),
		app(models.StatusNew, 0),
	}
	score := ComputeTrustIndex(apps)
	assert.Equal(t, 30.0, score.AvgResponseHours)
	// -10 response, -10 confirmation, -10 payment
	assert.Equal(t, 70.0, score.Value)
}

func TestComputeTrustIndexAlwaysBounded(t *testing.T) {
	statuses := models.ApplicationStatuses
	delays := []time.Duration{0, time.Minute, 25 * time.Hour, 72 * time.Hour, 1000 * time.Hour}
	for _, s1 := range statuses {
		for _, s2 := range statuses {
			for _, d := range delays {
				score := ComputeTrustIndex([]models.Application{app(s1, d), app(s2, d)})
				assert.GreaterOrEqual(t, score.Value, 0.0)
				assert.LessOrEqual(t, score.Value, 100.0)
			}
		}
	}
}

func TestComputeTrustIndexDeterministic(t *testing.T) {
	apps := []models.Application{app(models.StatusPaid, 7*time.Hour), app(models.StatusNew, 0), app(models.StatusCancelled, 49*time.Hour)}
	assert.Equal(t, ComputeTrustIndex(apps), ComputeTrustIndex(apps))
}

func TestComputeDisciplineIndexEmpty(t *testing.T) {
	_, ok := ComputeDisciplineIndex(nil)
	assert.False(t, ok)
}

func TestComputeDisciplineIndex(t *testing.T) {
	events := []models.AnalyticsEvent{
		{Kind: models.EventButtonClick},
		{Kind: models.EventButtonClick, SincePrevious: seconds(20)},
		{Kind: models.EventButtonClick, SincePrevious: seconds(120)},
		{Kind: models.EventStepCompleted, SincePrevious: seconds(1)},
		{Kind: models.EventApplicationCreated, SincePrevious: seconds(9)},
	}
	score, ok := ComputeDisciplineIndex(events)
	require.True(t, ok)
	assert.Equal(t, 37.5, score.AvgStepTime)
	assert.Equal(t, 70.0, score.ReactionDelay)
	assert.Equal(t, 3, score.TotalClicks)
	assert.Equal(t, 0, score.ReturnCount)
	assert.Equal(t, 95.0, score.Value)
}

func TestComputeDisciplineIndexReturnsPenaltyClamped(t *testing.T) {
	events := make([]models.AnalyticsEvent, 0, 25)
	for i := 0; i < 25; i++ {
		events = append(events, models.AnalyticsEvent{Kind: models.EventReturn, SincePrevious: seconds(400)})
	}
	score, ok := ComputeDisciplineIndex(events)
	require.True(t, ok)
	assert.Equal(t, 25, score.ReturnCount)
	assert.Equal(t, 0.0, score.Value)
}

func TestComputeDisciplineIndexFewReturnsIgnored(t *testing.T) {
	events := []models.AnalyticsEvent{
		{Kind: models.EventReturn}, {Kind: models.EventReturn}, {Kind: models.EventReturn},
	}
	score, ok := ComputeDisciplineIndex(events)
	require.True(t, ok)
	assert.Equal(t, 100.0, score.Value)
}
