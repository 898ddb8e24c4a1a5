package formfill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/peto/internal/models"
)

func TestTrackerSucceededFieldNeverRetried(t *testing.T) {
	tr := NewTracker(3)

	assert.True(t, tr.Eligible("id:email"))
	tr.Record("id:email", models.CompletionSucceeded, "ada@example.com")

	assert.True(t, tr.Succeeded("id:email"))
	assert.False(t, tr.Eligible("id:email"), "a filled field stays closed for the navigation")
	assert.Equal(t, 1, tr.SucceededCount())
}

func TestTrackerElidesAfterRetryBudget(t *testing.T) {
	tr := NewTracker(2)

	tr.Record("id:tricky", models.CompletionFailed, "v")
	assert.True(t, tr.Eligible("id:tricky"))

	tr.Record("id:tricky", models.CompletionFailed, "v")
	assert.False(t, tr.Eligible("id:tricky"), "budget exhausted")
	assert.False(t, tr.Succeeded("id:tricky"))

	rec, ok := tr.Get("id:tricky")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, models.CompletionFailed, rec.LastStatus)
}

func TestTrackerFailureThenSuccess(t *testing.T) {
	tr := NewTracker(3)

	tr.Record("id:f", models.CompletionFailed, "v")
	tr.Record("id:f", models.CompletionSucceeded, "v")

	assert.True(t, tr.Succeeded("id:f"))
	assert.False(t, tr.Eligible("id:f"))
	assert.Empty(t, tr.FailedIDs())
}

func TestTrackerResetOnNavigation(t *testing.T) {
	tr := NewTracker(3)
	tr.Record("id:a", models.CompletionSucceeded, "v")
	tr.Record("id:b", models.CompletionFailed, "v")

	tr.Reset()

	assert.True(t, tr.Eligible("id:a"))
	assert.True(t, tr.Eligible("id:b"))
	assert.Equal(t, 0, tr.SucceededCount())
}

func TestTrackerSkippedStaysEligible(t *testing.T) {
	tr := NewTracker(3)
	tr.Record("id:s", models.CompletionSkipped, "")

	assert.False(t, tr.Succeeded("id:s"))
	assert.True(t, tr.Eligible("id:s"), "a skip consumes one attempt but does not close the field")
}
