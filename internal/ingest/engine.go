package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/orders"
	"kangaroo-trader/internal/service"
)

// QuoteSource owns one browser session against the quotes page.
// Implementations are not safe for concurrent use.
type QuoteSource interface {
	// Start acquires the session and prepares the page.
	Start(ctx context.Context) error
	// Collect reads the current rows. A missing table yields an empty slice.
	Collect(ctx context.Context) ([]model.Quote, error)
	// Stop releases the session. It must be safe to call after a failed Start.
	Stop() error
}

// SourceFactory builds a fresh QuoteSource for each market session.
type SourceFactory func() QuoteSource

// SessionClock reports whether collection should run.
type SessionClock interface {
	Active() bool
	NextOpen(t time.Time) time.Time
}

// OrderMatcher evaluates pending orders against a batch of persisted prices.
type OrderMatcher interface {
	Match(ctx context.Context, prices map[string]decimal.Decimal) ([]orders.MatchResult, error)
}

// ErrSourceUnhealthy ends a session whose source keeps failing to collect.
var ErrSourceUnhealthy = errors.New("quote source unhealthy")

// CycleResult is what one collect/dedupe/persist/match pass produced.
type CycleResult struct {
	Quotes     int
	CollectErr error // set when Collect failed and the cycle degraded to NO_DATA
	Changed    bool
	Batch      *BatchResult         // nil unless the snapshot changed
	Matches    []orders.MatchResult // nil unless the snapshot changed
}

// Engine is the ingestion orchestrator. It owns the QuoteSource, the
// Deduplicator and the StatusPublisher.
type Engine struct {
	cfg       service.EngineConfig
	clock     SessionClock
	newSource SourceFactory
	writer    *SnapshotWriter
	matcher   OrderMatcher
	dedup     Deduplicator
	status    *StatusPublisher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewEngine(
	cfg service.EngineConfig,
	clock SessionClock,
	newSource SourceFactory,
	writer *SnapshotWriter,
	matcher OrderMatcher,
	status *StatusPublisher,
	logger *zap.SugaredLogger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		newSource: newSource,
		writer:    writer,
		matcher:   matcher,
		status:    status,
		logger:    logger,
		now:       time.Now,
	}
}

// Status exposes the read-only status view.
func (e *Engine) Status() StatusReader {
	return e.status
}

// Run drives the engine until ctx is cancelled. Errors and panics inside an
// iteration are logged and retried after engine.retry_interval.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Market engine started")
	defer func() {
		e.status.set(model.EngineStopped, "engine shut down", false)
		e.logger.Info("Market engine stopped")
	}()

	for ctx.Err() == nil {
		if !e.clock.Active() {
			next := e.clock.NextOpen(e.now())
			e.status.set(model.EngineMarketClosed, fmt.Sprintf("market closed, next open %s, re-checking in %s",
				next.Format(time.RFC3339), service.FormatInterval(e.cfg.ClosedInterval)), false)
			e.logger.Debugw("Market closed", "next_open", next)
			if !sleepCtx(ctx, e.cfg.ClosedInterval) {
				break
			}
			continue
		}

		if err := e.safeSession(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			retryIn := service.FormatInterval(e.cfg.RetryInterval)
			e.logger.Errorw("Market session failed, retrying", "error", err, "retry_in", retryIn)
			e.status.set(model.EngineError, fmt.Sprintf("%v, retrying in %s", err, retryIn), e.clock.Active())
			if !sleepCtx(ctx, e.cfg.RetryInterval) {
				break
			}
		}
	}
	return ctx.Err()
}

func (e *Engine) safeSession(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Recovered panic in market session", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.runSession(ctx)
}

// runSession owns one QuoteSource from start to stop. The source is released
// however the session ends, including after engine.max_collect_failures
// collects in a row have failed.
func (e *Engine) runSession(ctx context.Context) error {
	e.logger.Info("Market open, starting quote source")
	e.status.set(model.EngineLaunching, "starting quote source", true)

	src := e.newSource()
	defer func() {
		if err := src.Stop(); err != nil {
			e.logger.Warnw("Quote source stop failed", "error", err)
		}
		e.logger.Info("Quote source stopped")
	}()

	startCtx, cancel := withTimeout(ctx, e.cfg.NavigationTimeout)
	err := src.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("start quote source: %w", err)
	}

	// A new session always persists its first snapshot.
	e.dedup.Reset()
	e.status.set(model.EngineLive, "watching for price changes", true)

	failures := 0
	for ctx.Err() == nil && e.clock.Active() {
		res, err := e.Cycle(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warnw("Cycle failed", "error", err)
			e.status.set(model.EngineError, err.Error(), true)
		}
		if res.CollectErr != nil {
			failures++
			if failures >= e.maxCollectFailures() {
				return fmt.Errorf("%w: %d collects failed in a row: %v", ErrSourceUnhealthy, failures, res.CollectErr)
			}
		} else {
			failures = 0
		}
		if !sleepCtx(ctx, e.cfg.PollInterval) {
			return ctx.Err()
		}
	}

	e.logger.Info("Market closed, ending session")
	return nil
}

// Cycle runs collect, dedupe, persist and match once against src.
// Persistence always completes before matching starts.
func (e *Engine) Cycle(ctx context.Context, src QuoteSource) (CycleResult, error) {
	var res CycleResult

	collectCtx, cancel := withTimeout(ctx, e.cfg.CollectTimeout)
	quotes, err := src.Collect(collectCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		// A slow or broken page degrades to an empty cycle.
		e.logger.Warnw("Collect failed", "error", err)
		res.CollectErr = err
		quotes = nil
	}
	res.Quotes = len(quotes)

	if len(quotes) == 0 {
		e.status.set(model.EngineNoData, "no rows collected", true)
		return res, nil
	}

	fp, changed := e.dedup.Check(quotes)
	if !changed {
		e.status.set(model.EngineLive, fmt.Sprintf("watching %d tickers, no change", len(quotes)), true)
		return res, nil
	}
	res.Changed = true

	e.logger.Infow("Price update detected, persisting", "rows", len(quotes))
	batch, err := e.writer.Persist(ctx, quotes)
	res.Batch = &batch
	if err != nil {
		return res, fmt.Errorf("persist snapshot: %w", err)
	}
	e.dedup.Commit(fp)

	matches, err := e.matcher.Match(ctx, batch.Prices)
	res.Matches = matches
	if err != nil {
		// The snapshot is stored; pending orders get another chance on the
		// next price change.
		return res, fmt.Errorf("match orders: %w", err)
	}

	filled := 0
	for _, m := range matches {
		if m.Filled {
			filled++
		}
	}

	now := e.now()
	e.status.markRun(now)
	e.status.set(model.EngineUpdated, fmt.Sprintf("%d rows (%d new, %d updated, %d failed), %d orders filled",
		len(quotes), batch.Created, batch.Updated, batch.Failed, filled), true)
	return res, nil
}

func (e *Engine) maxCollectFailures() int {
	if e.cfg.MaxCollectFailures <= 0 {
		return 5
	}
	return e.cfg.MaxCollectFailures
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// withTimeout applies d when it is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
