package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payroll-bridge/internal/errorqueue"
	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
)

func testProcessor(t *testing.T) (*Processor, *errorqueue.Queue, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	queue := errorqueue.NewQueue(errorqueue.NewMemoryStore(),
		errorqueue.WithClock(func() time.Time { return now }),
		errorqueue.WithBackoff(errorqueue.BackoffConfig{
			BaseDelay: time.Minute,
			MaxDelay:  time.Hour,
		}),
	)
	return NewProcessor(queue), queue, &now
}

func enqueue(t *testing.T, q *errorqueue.Queue, errType errorqueue.ErrorType, data []byte) *errorqueue.Item {
	t.Helper()
	item, err := q.AddToQueue(context.Background(), errorqueue.NewItemInput{
		OrganizationID: "org-1",
		ErrorType:      errType,
		ErrorMessage:   "request timed out",
		ErrorData:      data,
	})
	require.NoError(t, err)
	if item.Status == errorqueue.StatusManualReview {
		item, err = q.TriggerRetry(context.Background(), item.ID)
		require.NoError(t, err)
	}
	return item
}

func TestSweepResolvesOnSuccess(t *testing.T) {
	p, q, now := testProcessor(t)
	ctx := context.Background()

	item := enqueue(t, q, errorqueue.ErrorTypeTimeout, nil)
	p.Register(errorqueue.ErrorTypeTimeout, HandlerFunc(
		func(ctx context.Context, it *errorqueue.Item) ([]byte, error) {
			assert.Equal(t, item.ID, it.ID)
			assert.Equal(t, errorqueue.StatusRetrying, it.Status)
			return []byte(`{"ok":true}`), nil
		}))

	*now = now.Add(2 * time.Minute)
	result, err := p.ProcessRetryQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 1, Succeeded: 1}, result)

	stored, err := q.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, errorqueue.StatusResolved, stored.Status)

	logs, err := q.GetRetryLogs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, errorqueue.RetrySuccess, logs[0].RetryResult)
	assert.JSONEq(t, `{"ok":true}`, string(logs[0].ResponseData))
}

func TestSweepReschedulesOnFailure(t *testing.T) {
	p, q, now := testProcessor(t)
	ctx := context.Background()

	item := enqueue(t, q, errorqueue.ErrorTypeNetwork, nil)
	p.Register(errorqueue.ErrorTypeNetwork, HandlerFunc(
		func(context.Context, *errorqueue.Item) ([]byte, error) {
			return nil, errors.New("connection refused")
		}))

	*now = now.Add(2 * time.Minute)
	result, err := p.ProcessRetryQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 1, Failed: 1}, result)

	stored, err := q.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, errorqueue.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(*now))
}

func TestSweepSkipsUnhandledTypes(t *testing.T) {
	p, q, now := testProcessor(t)
	ctx := context.Background()

	item := enqueue(t, q, errorqueue.ErrorTypeRateLimit, nil)

	*now = now.Add(2 * time.Minute)
	result, err := p.ProcessRetryQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Skipped: 1}, result)

	// Skipped items stay PENDING with budget intact.
	stored, err := q.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, errorqueue.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestSweepIsSingleFlight(t *testing.T) {
	p, q, now := testProcessor(t)
	ctx := context.Background()

	enqueue(t, q, errorqueue.ErrorTypeTimeout, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	p.Register(errorqueue.ErrorTypeTimeout, HandlerFunc(
		func(context.Context, *errorqueue.Item) ([]byte, error) {
			close(entered)
			<-release
			return nil, nil
		}))

	*now = now.Add(2 * time.Minute)
	done := make(chan error, 1)
	go func() {
		_, err := p.ProcessRetryQueue(ctx, 10)
		done <- err
	}()

	<-entered
	_, err := p.ProcessRetryQueue(ctx, 10)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(release)
	require.NoError(t, <-done)

	// The flag clears once the sweep finishes.
	_, err = p.ProcessRetryQueue(ctx, 10)
	assert.NoError(t, err)
}

type ruleSetSourceFunc func(ctx context.Context, id string) (*mapping.RuleSet, error)

func (f ruleSetSourceFunc) GetByID(ctx context.Context, id string) (*mapping.RuleSet, error) {
	return f(ctx, id)
}

func payrollRuleSet() *mapping.RuleSet {
	return &mapping.RuleSet{
		ID:                "rs-1",
		SourceSystem:      "adp",
		DestinationSystem: "fidelity",
		MappingType:       "contribution",
		Rules: mapping.Rules{
			FieldMappings: []mapping.FieldMapping{
				{SourceField: "pretax_amount", DestinationField: "PRETAX_CONTRIB",
					Transformation: "to_cents", Required: true},
			},
		},
	}
}

func TestMappingHandlerReplaysRecord(t *testing.T) {
	engine := mapping.NewEngine(registry.NewWithBuiltins())
	source := ruleSetSourceFunc(func(_ context.Context, id string) (*mapping.RuleSet, error) {
		require.Equal(t, "rs-1", id)
		return payrollRuleSet(), nil
	})
	handler := NewMappingHandler(engine, source)

	data, err := json.Marshal(map[string]any{
		"mappingConfigId": "rs-1",
		"sourceData":      map[string]any{"pretax_amount": "150.00"},
	})
	require.NoError(t, err)

	response, err := handler.Retry(context.Background(), &errorqueue.Item{
		ID: "eq-1", OrganizationID: "org-1",
		ErrorType: errorqueue.ErrorTypeMapping, ErrorData: data,
	})
	require.NoError(t, err)

	var mapped map[string]any
	require.NoError(t, json.Unmarshal(response, &mapped))
	assert.EqualValues(t, 15000, mapped["PRETAX_CONTRIB"])
}

func TestMappingHandlerFailsWhenRecordStillBad(t *testing.T) {
	engine := mapping.NewEngine(registry.NewWithBuiltins())
	source := ruleSetSourceFunc(func(context.Context, string) (*mapping.RuleSet, error) {
		return payrollRuleSet(), nil
	})
	handler := NewMappingHandler(engine, source)

	data, _ := json.Marshal(map[string]any{
		"mappingConfigId": "rs-1",
		"sourceData":      map[string]any{"pretax_amount": "not-a-number"},
	})

	response, err := handler.Retry(context.Background(), &errorqueue.Item{
		ID: "eq-1", ErrorType: errorqueue.ErrorTypeMapping, ErrorData: data,
	})
	assert.Error(t, err)
	assert.NotEmpty(t, response, "field errors come back as response data")
}

func TestMappingHandlerRejectsBadPayload(t *testing.T) {
	handler := NewMappingHandler(mapping.NewEngine(registry.NewWithBuiltins()), nil)

	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json"},
		{"missing config id", `{"sourceData":{"a":1}}`},
		{"missing source data", `{"mappingConfigId":"rs-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.Retry(context.Background(), &errorqueue.Item{
				ID: "eq-1", ErrorData: []byte(tt.data),
			})
			assert.Error(t, err)
		})
	}
}

func TestMappingHandlerPropagatesRuleSetError(t *testing.T) {
	source := ruleSetSourceFunc(func(context.Context, string) (*mapping.RuleSet, error) {
		return nil, fmt.Errorf("rule set rs-1: %w", mapping.ErrRuleSetNotFound)
	})
	handler := NewMappingHandler(mapping.NewEngine(registry.NewWithBuiltins()), source)

	data, _ := json.Marshal(map[string]any{
		"mappingConfigId": "rs-1",
		"sourceData":      map[string]any{"a": 1},
	})
	_, err := handler.Retry(context.Background(), &errorqueue.Item{ID: "eq-1", ErrorData: data})
	assert.ErrorIs(t, err, mapping.ErrRuleSetNotFound)
}
