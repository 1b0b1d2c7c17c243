package errorqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*Queue, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := NewQueue(store,
		WithClock(func() time.Time { return now }),
		WithBackoff(BackoffConfig{
			BaseDelay:    time.Minute,
			MaxDelay:     time.Hour,
			JitterFactor: 0,
		}),
	)
	return q, store, &now
}

func TestAddToQueueRetryableEntersPending(t *testing.T) {
	q, _, now := testQueue(t)

	item, err := q.AddToQueue(context.Background(), NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      ErrorTypeNetwork,
		Severity:       SeverityHigh,
		ErrorMessage:   "connection reset by peer",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, item.Status)
	require.NotNil(t, item.NextRetryAt)
	assert.Equal(t, now.Add(time.Minute), *item.NextRetryAt)
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, defaultMaxRetries, item.MaxRetries)
	assert.NotEmpty(t, item.ID)
}

func TestAddToQueueNonRetryableEntersManualReview(t *testing.T) {
	q, _, _ := testQueue(t)

	item, err := q.AddToQueue(context.Background(), NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      ErrorTypeValidation,
		ErrorMessage:   "ssn failed format check",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusManualReview, item.Status)
	assert.Nil(t, item.NextRetryAt)
	assert.Equal(t, SeverityMedium, item.Severity, "severity defaults to MEDIUM")
}

func TestAddToQueueAlwaysAppends(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	input := NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      ErrorTypeAPI,
		RecordID:       "emp-42",
		ErrorMessage:   "upstream returned 500",
	}
	first, err := q.AddToQueue(ctx, input)
	require.NoError(t, err)
	second, err := q.AddToQueue(ctx, input)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	items, err := q.List(ctx, Filter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAddToQueueRequiresFields(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.AddToQueue(ctx, NewItemInput{ErrorType: ErrorTypeAPI, ErrorMessage: "x"})
	assert.Error(t, err)

	_, err = q.AddToQueue(ctx, NewItemInput{OrganizationID: "org-1", ErrorType: ErrorTypeAPI})
	assert.Error(t, err)
}

// A transient API failure walks the full automatic lifecycle: scheduled
// retries with doubling delays, then FAILED_PERMANENTLY once the budget
// is spent.
func TestAutomaticRetryLifecycleExhaustsBudget(t *testing.T) {
	q, _, now := testQueue(t)
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      ErrorTypeTimeout,
		Severity:       SeverityHigh,
		ErrorMessage:   "request timed out",
		MaxRetries:     3,
	})
	require.NoError(t, err)

	delays := []time.Duration{2 * time.Minute, 4 * time.Minute}
	for attempt := 1; attempt <= 3; attempt++ {
		// Not due until the schedule elapses.
		ready, err := q.GetReadyForRetry(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ready, "attempt %d: item due only after nextRetryAt", attempt)

		*now = now.Add(time.Hour)
		ready, err = q.GetReadyForRetry(ctx, 10)
		require.NoError(t, err)
		require.Len(t, ready, 1)

		claimed, err := q.MarkAsRetrying(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRetrying, claimed.Status)

		updated, err := q.RecordRetryResult(ctx, item.ID, false, "request timed out", nil, 1200)
		require.NoError(t, err)
		assert.Equal(t, attempt, updated.RetryCount)

		if attempt < 3 {
			assert.Equal(t, StatusPending, updated.Status)
			require.NotNil(t, updated.NextRetryAt)
			assert.Equal(t, now.Add(delays[attempt-1]), *updated.NextRetryAt,
				"attempt %d reschedules with doubled delay", attempt)
		} else {
			assert.Equal(t, StatusFailedPermanently, updated.Status)
			assert.Nil(t, updated.NextRetryAt)
		}
	}

	// Exhausted items never come back in a sweep.
	*now = now.Add(48 * time.Hour)
	ready, err := q.GetReadyForRetry(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	logs, err := q.GetRetryLogs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i, log := range logs {
		assert.Equal(t, i+1, log.RetryAttempt)
		assert.Equal(t, RetryTransient, log.RetryResult)
	}
}

// An operator pulls a MANUAL_REVIEW item back into the retry path and
// the attempt succeeds.
func TestManualTriggerThenSuccess(t *testing.T) {
	q, _, now := testQueue(t)
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      ErrorTypeMapping,
		ErrorMessage:   "transformation to_cents failed",
		ErrorData:      []byte(`{"mappingConfigId":"rs-1","sourceData":{"pay":"50.00"}}`),
	})
	require.NoError(t, err)
	require.Equal(t, StatusManualReview, item.Status)

	triggered, err := q.TriggerRetry(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, triggered.Status)
	require.NotNil(t, triggered.NextRetryAt)
	assert.Equal(t, *now, *triggered.NextRetryAt, "manual trigger schedules immediately")

	ready, err := q.GetReadyForRetry(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	_, err = q.MarkAsRetrying(ctx, item.ID)
	require.NoError(t, err)

	resolved, err := q.RecordRetryResult(ctx, item.ID, true, "", []byte(`{"ok":true}`), 45)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Nil(t, resolved.NextRetryAt)

	// ErrorData survives byte-for-byte for the handler.
	stored, err := q.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(item.ErrorData), string(stored.ErrorData))

	logs, err := q.GetRetryLogs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, RetrySuccess, logs[0].RetryResult)
	assert.Equal(t, int64(45), logs[0].DurationMs)
}

func TestTriggerRetryRefusesResolvedAndInFlight(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	resolved, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeValidation, ErrorMessage: "bad"})
	require.NoError(t, err)
	_, err = q.Resolve(ctx, resolved.ID, "ops@acme", "fixed upstream")
	require.NoError(t, err)
	_, err = q.TriggerRetry(ctx, resolved.ID)
	assert.Error(t, err)

	inflight, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork, ErrorMessage: "connection reset"})
	require.NoError(t, err)
	_, err = q.MarkAsRetrying(ctx, inflight.ID)
	require.NoError(t, err)
	_, err = q.TriggerRetry(ctx, inflight.ID)
	assert.Error(t, err)
}

func TestTriggerRetryRevivesFailedPermanently(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      ErrorTypeAPI,
		ErrorMessage:   "upstream returned 503",
		MaxRetries:     1,
	})
	require.NoError(t, err)

	_, err = q.MarkAsRetrying(ctx, item.ID)
	require.NoError(t, err)
	exhausted, err := q.RecordRetryResult(ctx, item.ID, false, "upstream returned 503", nil, 0)
	require.NoError(t, err)
	require.Equal(t, StatusFailedPermanently, exhausted.Status)

	// An operator can still force another round.
	revived, err := q.TriggerRetry(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, revived.Status)
}

func TestBulkRetryPartitionsExactly(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	var good []string
	for i := 0; i < 3; i++ {
		item, err := q.AddToQueue(ctx, NewItemInput{
			OrganizationID: "org-1", ErrorType: ErrorTypeValidation, ErrorMessage: "bad row"})
		require.NoError(t, err)
		good = append(good, item.ID)
	}
	resolved, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeValidation, ErrorMessage: "bad row"})
	require.NoError(t, err)
	_, err = q.Resolve(ctx, resolved.ID, "ops@acme", "")
	require.NoError(t, err)

	ids := append(append([]string{}, good...), resolved.ID, "no-such-id")
	result := q.BulkRetry(ctx, ids)

	assert.ElementsMatch(t, good, result.Queued)
	assert.ElementsMatch(t, []string{resolved.ID, "no-such-id"}, result.Failed)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, len(ids), len(result.Queued)+len(result.Failed))
}

func TestMarkAsRetryingIsExclusive(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork, ErrorMessage: "connection refused"})
	require.NoError(t, err)

	_, err = q.MarkAsRetrying(ctx, item.ID)
	require.NoError(t, err)

	_, err = q.MarkAsRetrying(ctx, item.ID)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestTerminalStatesAreImmutableToClose(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeValidation, ErrorMessage: "bad"})
	require.NoError(t, err)

	_, err = q.Ignore(ctx, item.ID, "ops@acme", "known duplicate")
	require.NoError(t, err)

	_, err = q.Resolve(ctx, item.ID, "ops@acme", "")
	assert.Error(t, err)
	_, err = q.Ignore(ctx, item.ID, "ops@acme", "")
	assert.Error(t, err)

	stored, err := q.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, stored.Status)
	assert.Equal(t, "ops@acme", stored.ResolvedBy)
	assert.Equal(t, "known duplicate", stored.ResolutionNotes)
}

func TestReadyForRetryOrdersBySeverityThenSchedule(t *testing.T) {
	q, _, now := testQueue(t)
	ctx := context.Background()

	low, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork,
		Severity: SeverityLow, ErrorMessage: "connection reset"})
	require.NoError(t, err)

	*now = now.Add(time.Second)
	critical, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork,
		Severity: SeverityCritical, ErrorMessage: "connection reset"})
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	high, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork,
		Severity: SeverityHigh, ErrorMessage: "connection reset"})
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	ready, err := q.GetReadyForRetry(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, critical.ID, ready[0].ID)
	assert.Equal(t, high.ID, ready[1].ID)
	assert.Equal(t, low.ID, ready[2].ID)

	limited, err := q.GetReadyForRetry(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStatsAggregates(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork,
		Severity: SeverityHigh, ErrorMessage: "connection reset"})
	require.NoError(t, err)
	_, err = q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeValidation,
		Severity: SeverityLow, ErrorMessage: "bad ssn"})
	require.NoError(t, err)
	_, err = q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-2", ErrorType: ErrorTypeValidation,
		Severity: SeverityLow, ErrorMessage: "bad ssn"})
	require.NoError(t, err)

	stats, err := q.GetStats(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, 1, stats.ByStatus[StatusManualReview])
	assert.Equal(t, 1, stats.ByType[ErrorTypeNetwork])

	all, err := q.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
}

func TestRecordRetryResultRequiresRetrying(t *testing.T) {
	q, _, _ := testQueue(t)
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, NewItemInput{
		OrganizationID: "org-1", ErrorType: ErrorTypeNetwork, ErrorMessage: "connection reset"})
	require.NoError(t, err)

	_, err = q.RecordRetryResult(ctx, item.ID, true, "", nil, 0)
	assert.ErrorIs(t, err, ErrStatusConflict)
}
