package errorqueue

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by all implementations.
var (
	ErrItemNotFound = errors.New("error queue item not found")
	// ErrStatusConflict signals a lost optimistic-concurrency race: the
	// item's status changed between read and write. The per-item status
	// transition is the only mutable state crossing component boundaries,
	// so every update is guarded by the status the caller last observed.
	ErrStatusConflict = errors.New("error queue item status changed concurrently")
)

// Store is the persistence contract for the error queue. Implementations
// must preserve ErrorData byte-for-byte and keep status transitions
// atomic per item.
type Store interface {
	Insert(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	// Update writes the item iff its stored status equals expectedStatus,
	// returning ErrStatusConflict otherwise.
	Update(ctx context.Context, item *Item, expectedStatus Status) error
	List(ctx context.Context, filter Filter) ([]*Item, error)
	// ReadyForRetry selects status=PENDING, nextRetryAt<=now,
	// retryCount<maxRetries, ordered by severity desc then nextRetryAt asc.
	ReadyForRetry(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	AppendRetryLog(ctx context.Context, log *RetryLog) error
	RetryLogs(ctx context.Context, itemID string) ([]*RetryLog, error)
	Stats(ctx context.Context, organizationID string) (*Stats, error)
}
