package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/rulegate/pkg/telemetry/logging"
	"mercator-hq/rulegate/pkg/telemetry/tracing"
)

// Item is one unit of a batch evaluation.
type Item struct {
	Content string
	Context Context

	// Strategy overrides the engine default when set.
	Strategy Strategy
}

// BatchResult is the outcome of one batch item. Result is never nil.
type BatchResult struct {
	Index  int
	Result *ValidationResult
	Err    error
}

// Batch is a running batch evaluation.
type Batch struct {
	results []BatchResult
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// EvaluateBatch evaluates items in parallel and returns results in item
// order. A failing item never fails the others.
func (e *Engine) EvaluateBatch(ctx context.Context, items []Item) []BatchResult {
	return e.StartBatch(ctx, items).Wait()
}

// StartBatch starts evaluating items with at most Config.BatchConcurrency
// items in flight. Individual items can be cancelled with Cancel.
func (e *Engine) StartBatch(ctx context.Context, items []Item) *Batch {
	b := &Batch{
		results: make([]BatchResult, len(items)),
		cancels: make([]context.CancelFunc, len(items)),
	}

	ctx, span := e.tracer.Start(ctx, tracing.SpanBatch,
		trace.WithAttributes(attribute.Int(tracing.AttrBatchSize, len(items))))

	itemCtxs := make([]context.Context, len(items))
	for i := range items {
		itemCtxs[i], b.cancels[i] = context.WithCancel(logging.WithBatchIndex(ctx, i))
	}

	sem := make(chan struct{}, e.cfg.BatchConcurrency)
	b.wg.Add(len(items))
	for i, item := range items {
		go func(i int, item Item) {
			defer b.wg.Done()
			defer b.cancels[i]()

			itemCtx := itemCtxs[i]
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-itemCtx.Done():
				// Evaluated below with the cancelled context, which fails closed.
			}

			strategy := item.Strategy
			if strategy == "" {
				strategy = e.cfg.DefaultStrategy
			}
			res, err := e.evaluate(itemCtx, item.Content, item.Context, strategy)
			b.results[i] = BatchResult{Index: i, Result: res, Err: err}
		}(i, item)
	}

	go func() {
		b.wg.Wait()
		span.End()
	}()
	return b
}

// Cancel cancels item i. Cancelling a finished item has no effect.
func (b *Batch) Cancel(i int) {
	if i >= 0 && i < len(b.cancels) {
		b.cancels[i]()
	}
}

// Wait blocks until every item finished and returns the results in item
// order.
func (b *Batch) Wait() []BatchResult {
	b.wg.Wait()
	return b.results
}

// Len returns the number of items.
func (b *Batch) Len() int { return len(b.results) }
