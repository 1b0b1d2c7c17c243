// Package errorqueue implements the durable record of failed integration
// operations: a classification-driven retry state machine with
// exponential backoff scheduling and append-only retry logs.
//
// Items are classified on entry: retryable error types go straight to
// PENDING with a scheduled next attempt, everything else parks in
// MANUAL_REVIEW for an operator. Items are never deleted; terminal
// states are retained for audit.
package errorqueue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the retry state of a queue item.
type Status string

const (
	StatusManualReview      Status = "MANUAL_REVIEW"
	StatusPending           Status = "PENDING"
	StatusRetrying          Status = "RETRYING"
	StatusResolved          Status = "RESOLVED"
	StatusIgnored           Status = "IGNORED"
	StatusFailedPermanently Status = "FAILED_PERMANENTLY"
)

// IsTerminal reports whether a status can never transition again through
// the retry path.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusIgnored, StatusFailedPermanently:
		return true
	default:
		return false
	}
}

// ErrorType classifies the failed operation.
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "NETWORK_ERROR"
	ErrorTypeTimeout        ErrorType = "TIMEOUT_ERROR"
	ErrorTypeRateLimit      ErrorType = "RATE_LIMIT_ERROR"
	ErrorTypeAPI            ErrorType = "API_ERROR"
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeMapping        ErrorType = "MAPPING_ERROR"
	ErrorTypeFileFormat     ErrorType = "FILE_FORMAT_ERROR"
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeDataIntegrity  ErrorType = "DATA_INTEGRITY_ERROR"
)

// retryableTypes is the static classification table: these types enter
// the queue as PENDING with a backoff schedule; everything else routes to
// MANUAL_REVIEW with no automatic retry.
var retryableTypes = map[ErrorType]bool{
	ErrorTypeNetwork:   true,
	ErrorTypeTimeout:   true,
	ErrorTypeRateLimit: true,
	ErrorTypeAPI:       true,
}

// IsRetryable reports whether t is automatically retried.
func (t ErrorType) IsRetryable() bool {
	return retryableTypes[t]
}

// Severity orders queue items for retry sweeps and operator views.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns a sortable weight; higher means more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RetryResult is the outcome classification of one attempt.
type RetryResult string

const (
	RetrySuccess   RetryResult = "SUCCESS"
	RetryFailed    RetryResult = "FAILED"
	RetryTransient RetryResult = "TRANSIENT_ERROR"
)

// transientPatterns is a message heuristic, not a guaranteed classifier:
// failures that look like timeouts, connection drops, throttling, or
// gateway errors are logged as TRANSIENT_ERROR rather than FAILED.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"502",
	"503",
	"504",
}

// ClassifyAttemptError maps an attempt error message to FAILED or
// TRANSIENT_ERROR.
func ClassifyAttemptError(message string) RetryResult {
	lower := strings.ToLower(message)
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			return RetryTransient
		}
	}
	return RetryFailed
}

// Item is one durable failed operation. ErrorData is opaque to the queue
// and must round-trip byte-for-byte: retry handlers reconstruct the
// original operation purely from it.
type Item struct {
	ID                string          `json:"id" db:"id"`
	OrganizationID    string          `json:"organization_id" db:"organization_id"`
	ErrorType         ErrorType       `json:"error_type" db:"error_type"`
	Severity          Severity        `json:"severity" db:"severity"`
	SourceSystem      string          `json:"source_system,omitempty" db:"source_system"`
	DestinationSystem string          `json:"destination_system,omitempty" db:"destination_system"`
	RecordID          string          `json:"record_id,omitempty" db:"record_id"`
	RecordType        string          `json:"record_type,omitempty" db:"record_type"`
	ErrorData         json.RawMessage `json:"error_data,omitempty" db:"error_data"`
	ErrorMessage      string          `json:"error_message" db:"error_message"`
	ErrorCode         string          `json:"error_code,omitempty" db:"error_code"`
	RetryCount        int             `json:"retry_count" db:"retry_count"`
	MaxRetries        int             `json:"max_retries" db:"max_retries"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	Status            Status          `json:"status" db:"status"`
	ResolutionNotes   string          `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedBy        string          `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	Context           json.RawMessage `json:"context,omitempty" db:"context"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// RetryLog is one append-only attempt record.
type RetryLog struct {
	ID           string          `json:"id" db:"id"`
	ErrorQueueID string          `json:"error_queue_id" db:"error_queue_id"`
	RetryAttempt int             `json:"retry_attempt" db:"retry_attempt"`
	RetryAt      time.Time       `json:"retry_at" db:"retry_at"`
	RetryResult  RetryResult     `json:"retry_result" db:"retry_result"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	ResponseData json.RawMessage `json:"response_data,omitempty" db:"response_data"`
	DurationMs   int64           `json:"duration_ms,omitempty" db:"duration_ms"`
}

// Filter narrows List queries. Zero values match everything.
type Filter struct {
	OrganizationID string
	Status         Status
	ErrorType      ErrorType
	Severity       Severity
	Limit          int
	Offset         int
}

// Stats summarizes the queue for operator dashboards.
type Stats struct {
	Total      int               `json:"total"`
	ByStatus   map[Status]int    `json:"by_status"`
	ByType     map[ErrorType]int `json:"by_type"`
	BySeverity map[Severity]int  `json:"by_severity"`
}
