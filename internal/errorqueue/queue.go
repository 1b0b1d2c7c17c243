package errorqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultMaxRetries = 5

// Queue is the service layer over a Store. All state transitions go
// through it so the status machine stays consistent regardless of
// backing store.
type Queue struct {
	store   Store
	backoff BackoffConfig
	now     func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithBackoff overrides the default retry schedule.
func WithBackoff(cfg BackoffConfig) QueueOption {
	return func(q *Queue) { q.backoff = cfg }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store, opts ...QueueOption) *Queue {
	q := &Queue{
		store:   store,
		backoff: DefaultBackoff(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewItemInput carries the caller-supplied fields for AddToQueue.
type NewItemInput struct {
	OrganizationID    string
	ErrorType         ErrorType
	Severity          Severity
	SourceSystem      string
	DestinationSystem string
	RecordID          string
	RecordType        string
	ErrorData         []byte
	ErrorMessage      string
	ErrorCode         string
	Context           []byte
	MaxRetries        int
}

// AddToQueue records a new failure. Every call appends a new item:
// repeated failures of the same record are separate entries, never
// merged. Retryable error types enter as PENDING with the first backoff
// delay already scheduled; everything else enters as MANUAL_REVIEW with
// no schedule.
func (q *Queue) AddToQueue(ctx context.Context, input NewItemInput) (*Item, error) {
	if input.OrganizationID == "" {
		return nil, fmt.Errorf("organization id is required")
	}
	if input.ErrorMessage == "" {
		return nil, fmt.Errorf("error message is required")
	}

	now := q.now()
	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	item := &Item{
		ID:                uuid.New().String(),
		OrganizationID:    input.OrganizationID,
		ErrorType:         input.ErrorType,
		Severity:          input.Severity,
		SourceSystem:      input.SourceSystem,
		DestinationSystem: input.DestinationSystem,
		RecordID:          input.RecordID,
		RecordType:        input.RecordType,
		ErrorData:         input.ErrorData,
		ErrorMessage:      input.ErrorMessage,
		ErrorCode:         input.ErrorCode,
		Context:           input.Context,
		MaxRetries:        maxRetries,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if item.Severity == "" {
		item.Severity = SeverityMedium
	}

	if input.ErrorType.IsRetryable() {
		item.Status = StatusPending
		next := q.backoff.NextRetryAt(now, 0)
		item.NextRetryAt = &next
	} else {
		item.Status = StatusManualReview
	}

	if err := q.store.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}
	return item, nil
}

// TriggerRetry is the operator's "retry now" button: it moves an item to
// PENDING with an immediate schedule. RESOLVED items cannot be retried,
// and items mid-attempt (RETRYING) are left alone.
func (q *Queue) TriggerRetry(ctx context.Context, id string) (*Item, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case StatusResolved:
		return nil, fmt.Errorf("item %s is resolved and cannot be retried", id)
	case StatusRetrying:
		return nil, fmt.Errorf("item %s has a retry in flight", id)
	}

	previous := item.Status
	now := q.now()
	item.Status = StatusPending
	item.NextRetryAt = &now
	item.UpdatedAt = now
	if err := q.store.Update(ctx, item, previous); err != nil {
		return nil, fmt.Errorf("trigger retry for %s: %w", id, err)
	}
	return item, nil
}

// BulkRetryResult partitions a bulk trigger: every requested id lands in
// exactly one of Queued or Failed.
type BulkRetryResult struct {
	Queued []string          `json:"queued"`
	Failed []string          `json:"failed"`
	Errors map[string]string `json:"errors,omitempty"`
}

// BulkRetry triggers a retry for each id independently. One bad id does
// not abort the rest.
func (q *Queue) BulkRetry(ctx context.Context, ids []string) *BulkRetryResult {
	result := &BulkRetryResult{Errors: make(map[string]string)}
	for _, id := range ids {
		if _, err := q.TriggerRetry(ctx, id); err != nil {
			result.Failed = append(result.Failed, id)
			result.Errors[id] = err.Error()
			continue
		}
		result.Queued = append(result.Queued, id)
	}
	return result
}

// MarkAsRetrying claims a PENDING item for an attempt. The status guard
// makes the claim exclusive: two sweepers racing on the same item means
// one gets ErrStatusConflict and skips it.
func (q *Queue) MarkAsRetrying(ctx context.Context, id string) (*Item, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusPending {
		return nil, fmt.Errorf("item %s is %s, not %s: %w",
			id, item.Status, StatusPending, ErrStatusConflict)
	}

	item.Status = StatusRetrying
	item.UpdatedAt = q.now()
	if err := q.store.Update(ctx, item, StatusPending); err != nil {
		return nil, fmt.Errorf("mark %s retrying: %w", id, err)
	}
	return item, nil
}

// RecordRetryResult finishes an attempt on a RETRYING item: it appends a
// retry log entry and advances the state machine. Success resolves the
// item; failure either reschedules with backoff or, once the retry
// budget is spent, parks it as FAILED_PERMANENTLY.
func (q *Queue) RecordRetryResult(ctx context.Context, id string, success bool, errMessage string, responseData []byte, durationMs int64) (*Item, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusRetrying {
		return nil, fmt.Errorf("item %s is %s, not %s: %w",
			id, item.Status, StatusRetrying, ErrStatusConflict)
	}

	now := q.now()
	log := &RetryLog{
		ID:           uuid.New().String(),
		ErrorQueueID: id,
		RetryAttempt: item.RetryCount + 1,
		RetryAt:      now,
		ResponseData: responseData,
		DurationMs:   durationMs,
	}
	if success {
		log.RetryResult = RetrySuccess
	} else {
		log.RetryResult = ClassifyAttemptError(errMessage)
		log.ErrorMessage = errMessage
	}
	if err := q.store.AppendRetryLog(ctx, log); err != nil {
		return nil, fmt.Errorf("append retry log for %s: %w", id, err)
	}

	item.UpdatedAt = now
	if success {
		item.Status = StatusResolved
		item.ResolvedAt = &now
		item.NextRetryAt = nil
	} else {
		item.RetryCount++
		if item.RetryCount >= item.MaxRetries {
			item.Status = StatusFailedPermanently
			item.NextRetryAt = nil
		} else {
			item.Status = StatusPending
			next := q.backoff.NextRetryAt(now, item.RetryCount)
			item.NextRetryAt = &next
		}
	}
	if err := q.store.Update(ctx, item, StatusRetrying); err != nil {
		return nil, fmt.Errorf("record retry result for %s: %w", id, err)
	}
	return item, nil
}

// Resolve closes an item as handled. Terminal items stay terminal.
func (q *Queue) Resolve(ctx context.Context, id, resolvedBy, notes string) (*Item, error) {
	return q.close(ctx, id, StatusResolved, resolvedBy, notes)
}

// Ignore closes an item as intentionally skipped.
func (q *Queue) Ignore(ctx context.Context, id, resolvedBy, notes string) (*Item, error) {
	return q.close(ctx, id, StatusIgnored, resolvedBy, notes)
}

func (q *Queue) close(ctx context.Context, id string, target Status, resolvedBy, notes string) (*Item, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status.IsTerminal() {
		return nil, fmt.Errorf("item %s is already %s", id, item.Status)
	}

	previous := item.Status
	now := q.now()
	item.Status = target
	item.ResolvedBy = resolvedBy
	item.ResolutionNotes = notes
	item.ResolvedAt = &now
	item.NextRetryAt = nil
	item.UpdatedAt = now
	if err := q.store.Update(ctx, item, previous); err != nil {
		return nil, fmt.Errorf("close %s as %s: %w", id, target, err)
	}
	return item, nil
}

// GetReadyForRetry returns PENDING items whose schedule has elapsed and
// whose retry budget is not spent, most urgent first.
func (q *Queue) GetReadyForRetry(ctx context.Context, limit int) ([]*Item, error) {
	return q.store.ReadyForRetry(ctx, q.now(), limit)
}

// GetByID fetches a single item.
func (q *Queue) GetByID(ctx context.Context, id string) (*Item, error) {
	return q.store.Get(ctx, id)
}

// List returns items matching the filter, newest first.
func (q *Queue) List(ctx context.Context, filter Filter) ([]*Item, error) {
	return q.store.List(ctx, filter)
}

// GetRetryLogs returns the attempt history for an item, oldest first.
func (q *Queue) GetRetryLogs(ctx context.Context, id string) ([]*RetryLog, error) {
	if _, err := q.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return q.store.RetryLogs(ctx, id)
}

// GetStats aggregates queue counts for an organization. An empty
// organization id aggregates everything.
func (q *Queue) GetStats(ctx context.Context, organizationID string) (*Stats, error) {
	return q.store.Stats(ctx, organizationID)
}
