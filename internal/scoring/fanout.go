package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBackoff is the shared retry schedule for the scoring phase:
// 4 attempts total, sleeping between rounds.
var DefaultBackoff = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// Caller scores one submission with one provider.
type Caller interface {
	Score(ctx context.Context, req Request, model string) (*ScoreResult, error)
}

// Fanout calls every configured provider concurrently and retries transient
// failures in shared rounds. One backoff schedule governs the whole scoring
// phase; a provider that already succeeded is never re-called, and a sibling
// call never waits on another provider's backoff (the sleep happens between
// rounds, after every in-flight call of the round has returned).
type Fanout struct {
	Client  Caller
	Models  []string
	Backoff []time.Duration
	Logger  *slog.Logger

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFanout(client Caller, models []string, logger *slog.Logger) *Fanout {
	return &Fanout{
		Client:  client,
		Models:  models,
		Backoff: DefaultBackoff,
		Logger:  logger,
		sleep:   sleepCtx,
	}
}

type callOutcome struct {
	model  string
	result *ScoreResult
	err    error
}

// ScoreAll fans out to all providers and returns every successful result.
// It errors only when zero providers succeeded: permanent failures drop a
// provider immediately, transient failures retry until the schedule is
// exhausted, and the job proceeds with reduced confidence on partial
// success.
func (f *Fanout) ScoreAll(ctx context.Context, req Request) ([]*ScoreResult, error) {
	if len(f.Models) == 0 {
		return nil, errors.New("no grading models configured")
	}

	pending := append([]string(nil), f.Models...)
	var results []*ScoreResult
	var lastErr error

	for round := 0; ; round++ {
		outcomes := make(chan callOutcome, len(pending))
		for _, model := range pending {
			go func(model string) {
				res, err := f.Client.Score(ctx, req, model)
				outcomes <- callOutcome{model: model, result: res, err: err}
			}(model)
		}

		var retryable []string
		for range pending {
			out := <-outcomes
			switch {
			case out.err == nil:
				results = append(results, out.result)
			case IsTransient(out.err):
				lastErr = out.err
				retryable = append(retryable, out.model)
				f.Logger.Warn("provider call failed, will retry", "provider", out.model, "round", round, "error", out.err)
			default:
				lastErr = out.err
				f.Logger.Warn("provider call failed permanently", "provider", out.model, "error", out.err)
			}
		}

		if len(retryable) == 0 || round >= len(f.Backoff) {
			break
		}
		if err := f.sleep(ctx, f.Backoff[round]); err != nil {
			if len(results) > 0 {
				return results, nil
			}
			return nil, fmt.Errorf("scoring interrupted: %w", err)
		}
		pending = retryable
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("all providers failed: %w", lastErr)
	}
	return results, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
