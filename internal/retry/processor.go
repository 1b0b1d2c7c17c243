// Package retry drives automatic reprocessing of queued failures. A
// Processor sweeps the error queue for due items, dispatches each to the
// handler registered for its error type, and feeds the outcome back into
// the queue's state machine. The package also provides WithRetry, a
// stateless helper for inline retry of transient operations.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"payroll-bridge/internal/errorqueue"
	"payroll-bridge/internal/mapping"
)

// ErrSweepInProgress is returned when ProcessRetryQueue is called while a
// previous sweep is still running. Sweeps are single-flight: overlapping
// sweeps would race each other claiming the same items.
var ErrSweepInProgress = errors.New("retry sweep already in progress")

// Handler reattempts the operation captured in a queue item. The returned
// bytes are stored as the attempt's response data.
type Handler interface {
	Retry(ctx context.Context, item *errorqueue.Item) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, item *errorqueue.Item) ([]byte, error)

func (f HandlerFunc) Retry(ctx context.Context, item *errorqueue.Item) ([]byte, error) {
	return f(ctx, item)
}

// Processor sweeps the error queue and dispatches retries by error type.
type Processor struct {
	queue    *errorqueue.Queue
	handlers map[errorqueue.ErrorType]Handler
	running  atomic.Bool
}

// NewProcessor creates a Processor with no handlers registered.
func NewProcessor(queue *errorqueue.Queue) *Processor {
	return &Processor{
		queue:    queue,
		handlers: make(map[errorqueue.ErrorType]Handler),
	}
}

// Register installs the handler for an error type, replacing any previous
// one. Registration happens at wiring time, before the first sweep.
func (p *Processor) Register(t errorqueue.ErrorType, h Handler) {
	p.handlers[t] = h
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProcessRetryQueue claims and reattempts due items, most urgent first.
// Items whose error type has no registered handler are skipped and stay
// PENDING; items claimed by a concurrent operator action are skipped
// too. Returns ErrSweepInProgress if a sweep is already running.
func (p *Processor) ProcessRetryQueue(ctx context.Context, limit int) (SweepResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer p.running.Store(false)

	var result SweepResult
	items, err := p.queue.GetReadyForRetry(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("fetch items ready for retry: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		handler, ok := p.handlers[item.ErrorType]
		if !ok {
			result.Skipped++
			continue
		}

		claimed, err := p.queue.MarkAsRetrying(ctx, item.ID)
		if err != nil {
			if errors.Is(err, errorqueue.ErrStatusConflict) {
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("claim item %s: %w", item.ID, err)
		}

		start := time.Now()
		response, attemptErr := handler.Retry(ctx, claimed)
		durationMs := time.Since(start).Milliseconds()

		var errMessage string
		if attemptErr != nil {
			errMessage = attemptErr.Error()
		}
		updated, err := p.queue.RecordRetryResult(ctx, item.ID, attemptErr == nil, errMessage, response, durationMs)
		if err != nil {
			return result, fmt.Errorf("record retry result for %s: %w", item.ID, err)
		}

		result.Processed++
		if attemptErr == nil {
			result.Succeeded++
		} else {
			result.Failed++
			log.Printf("retry: item %s attempt %d failed (%s): %v",
				item.ID, updated.RetryCount, updated.Status, attemptErr)
		}
	}
	return result, nil
}

// RuleSetSource resolves rule sets for mapping retries.
type RuleSetSource interface {
	GetByID(ctx context.Context, id string) (*mapping.RuleSet, error)
}

// mappingErrorData is the payload a mapping failure carries in
// ErrorData: enough to replay the exact record against the exact rule
// set version.
type mappingErrorData struct {
	MappingConfigID string                    `json:"mappingConfigId"`
	SourceData      mapping.Record            `json:"sourceData"`
	LookupTables    map[string]map[string]any `json:"lookupTables,omitempty"`
}

// MappingHandler replays a failed mapping by re-executing the original
// record against its rule set. The attempt succeeds only if the record
// now maps cleanly.
type MappingHandler struct {
	engine   *mapping.Engine
	ruleSets RuleSetSource
}

// NewMappingHandler wires the handler for MAPPING_ERROR items.
func NewMappingHandler(engine *mapping.Engine, ruleSets RuleSetSource) *MappingHandler {
	return &MappingHandler{engine: engine, ruleSets: ruleSets}
}

func (h *MappingHandler) Retry(ctx context.Context, item *errorqueue.Item) ([]byte, error) {
	var data mappingErrorData
	if err := json.Unmarshal(item.ErrorData, &data); err != nil {
		return nil, fmt.Errorf("decode mapping error data: %w", err)
	}
	if data.MappingConfigID == "" {
		return nil, fmt.Errorf("mapping error data has no mappingConfigId")
	}
	if data.SourceData == nil {
		return nil, fmt.Errorf("mapping error data has no sourceData")
	}

	ruleSet, err := h.ruleSets.GetByID(ctx, data.MappingConfigID)
	if err != nil {
		return nil, fmt.Errorf("load rule set %s: %w", data.MappingConfigID, err)
	}

	result, err := h.engine.Execute(ctx, ruleSet, []mapping.Record{data.SourceData}, mapping.ExecOptions{
		OrganizationID: item.OrganizationID,
		LookupTables:   data.LookupTables,
	})
	if err != nil {
		return nil, fmt.Errorf("execute rule set %s: %w", data.MappingConfigID, err)
	}
	if result.Metrics.FailedRecords > 0 {
		detail, _ := json.Marshal(result.Errors)
		return detail, fmt.Errorf("record still fails mapping: %d field error(s)", len(result.Errors))
	}
	return json.Marshal(result.Data[0])
}
