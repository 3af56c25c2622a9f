package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Classifier scores how strongly text belongs to a category. Scores are
// clamped to [0, 1]. Implementations must honour ctx cancellation.
type Classifier interface {
	Score(ctx context.Context, text, category string) (float64, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text, category string) (float64, error)

// Score calls f.
func (f ClassifierFunc) Score(ctx context.Context, text, category string) (float64, error) {
	return f(ctx, text, category)
}

type scoreResult struct {
	score float64
	err   error
}

// classify runs one classifier call bounded by timeout. A timeout or failure
// is returned as a contained *EvalError; cancellation of ctx is returned as is.
func classify(ctx context.Context, c Classifier, timeout time.Duration, ruleID, text, category string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Run in a goroutine so a classifier ignoring ctx cannot stall the pass.
	done := make(chan scoreResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scoreResult{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		score, err := c.Score(callCtx, text, category)
		done <- scoreResult{score: score, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if errors.Is(res.err, context.DeadlineExceeded) {
				return 0, newEvalError(KindClassifierTimeout, ruleID, res.err)
			}
			return 0, newEvalError(KindEvaluationFailed, ruleID, res.err)
		}
		return clamp01(res.score), nil

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, newEvalError(KindClassifierTimeout, ruleID, fmt.Errorf("no score within %v", timeout))
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
