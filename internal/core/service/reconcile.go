package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/port"
)

const (
	defaultSweepWorkers = 4
	sweepKeyTimeout     = 30 * time.Second
)

// Audit replays the ledger of one holding and compares it with the live row
// without writing anything.
func (s *CustodyService) Audit(ctx context.Context, key domain.HoldingKey) (domain.DriftReport, error) {
	ctx, span := s.tracer.Start(ctx, "CustodyService.Audit", trace.WithAttributes(
		attribute.String("custody.holding", key.String()),
	))
	defer span.End()

	live, err := s.store.GetHolding(ctx, key)
	if err != nil {
		return domain.DriftReport{}, err
	}
	events, err := s.store.ListEvents(ctx, key)
	if err != nil {
		return domain.DriftReport{}, err
	}
	if live == nil && len(events) == 0 {
		return domain.DriftReport{}, &domain.NotFoundError{Kind: "holding", ID: key.String()}
	}

	current := domain.NewHolding(key)
	if live != nil {
		current = *live
	}
	report := domain.NewDriftReport(current, domain.Replay(key, events))
	span.SetAttributes(attribute.Bool("custody.drifted", report.Drifted()))
	return report, nil
}

// Reconcile rebuilds the live holding from its ledger when the two disagree.
// The rebuild is a versioned write, so a concurrent Apply makes it retry
// against the newer state instead of being overwritten.
func (s *CustodyService) Reconcile(ctx context.Context, key domain.HoldingKey) (domain.DriftReport, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "CustodyService.Reconcile", trace.WithAttributes(
		attribute.String("custody.holding", key.String()),
	))
	defer span.End()

	var report domain.DriftReport
	var err error
	for attempt := 1; ; attempt++ {
		report, err = s.reconcileOnce(ctx, key)
		if err == nil || !errors.Is(err, port.ErrWriteConflict) {
			break
		}
		if attempt >= s.maxRetries {
			err = &domain.ConflictError{Key: key, Attempts: attempt}
			break
		}
		s.metrics.Retry("reconcile")
		if err = backoff(ctx, attempt); err != nil {
			break
		}
	}

	s.metrics.Observe(ctx, "reconcile", outcomeOf(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err))
		return domain.DriftReport{}, err
	}
	if report.Rebuilt {
		s.metrics.Drift(string(key.Category))
		s.log.Info("holding rebuilt from ledger",
			"holding", key.String(),
			"drifted_items", len(report.Items),
			"discrepancies", len(report.Discrepancies),
		)
	}
	span.SetAttributes(attribute.Bool("custody.rebuilt", report.Rebuilt))
	return report, nil
}

func (s *CustodyService) reconcileOnce(ctx context.Context, key domain.HoldingKey) (domain.DriftReport, error) {
	var report domain.DriftReport
	err := s.store.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
		live, err := tx.GetHolding(ctx)
		if err != nil {
			return err
		}
		events, err := tx.ListEvents(ctx)
		if err != nil {
			return err
		}
		if !live.Exists() && len(events) == 0 {
			return &domain.NotFoundError{Kind: "holding", ID: key.String()}
		}

		report = domain.NewDriftReport(live, domain.Replay(key, events))
		if !report.Drifted() {
			return nil
		}

		rebuilt := report.Replayed.Clone()
		rebuilt.Version = live.Version
		if err := tx.PutHolding(ctx, rebuilt); err != nil {
			return err
		}
		report.Rebuilt = true
		return nil
	})
	return report, err
}

type SweepFailure struct {
	Key   domain.HoldingKey `json:"key"`
	Error string            `json:"error"`
}

// SweepReport summarizes one ReconcileAll pass over a category.
type SweepReport struct {
	Category domain.Category `json:"category"`
	Checked  int             `json:"checked"`
	Rebuilt  int             `json:"rebuilt"`
	Failed   []SweepFailure  `json:"failed,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// ReconcileAll reconciles every holding of category with a bounded pool of
// workers. Per-holding failures are collected, not fatal.
func (s *CustodyService) ReconcileAll(ctx context.Context, category domain.Category, workers int) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{Category: category}
	if !category.Valid() {
		return report, &domain.ValidationError{Field: "category", Reason: "unknown category " + string(category)}
	}
	if workers <= 0 {
		workers = defaultSweepWorkers
	}

	keys, err := s.sweepKeys(ctx, category)
	if err != nil {
		return report, err
	}

	queue := make(chan domain.HoldingKey)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.sweepWorker(ctx, id, queue, func(key domain.HoldingKey, r domain.DriftReport, err error) {
				mu.Lock()
				defer mu.Unlock()
				report.Checked++
				if err != nil {
					report.Failed = append(report.Failed, SweepFailure{Key: key, Error: err.Error()})
					return
				}
				if r.Rebuilt {
					report.Rebuilt++
				}
			})
		}(i)
	}

feed:
	for _, key := range keys {
		select {
		case queue <- key:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	report.Duration = time.Since(start)
	s.log.Info("reconcile sweep finished",
		"category", string(category),
		"checked", report.Checked,
		"rebuilt", report.Rebuilt,
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, ctx.Err()
}

func (s *CustodyService) sweepWorker(ctx context.Context, id int, queue <-chan domain.HoldingKey, done func(domain.HoldingKey, domain.DriftReport, error)) {
	for key := range queue {
		keyCtx, cancel := context.WithTimeout(ctx, sweepKeyTimeout)
		report, err := s.Reconcile(keyCtx, key)
		cancel()

		if err != nil {
			s.log.Warn("reconcile failed", "worker", id, "holding", key.String(), "error", err)
		}
		done(key, report, err)
	}
}

// sweepKeys is the union of holdings with a live row and holdings with ledger
// history, so orphaned rows on either side are visited.
func (s *CustodyService) sweepKeys(ctx context.Context, category domain.Category) ([]domain.HoldingKey, error) {
	live, err := s.store.ListHoldingKeys(ctx, category)
	if err != nil {
		return nil, err
	}
	ledger, err := s.store.ListLedgerKeys(ctx, category)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.HoldingKey]bool, len(live)+len(ledger))
	keys := make([]domain.HoldingKey, 0, len(live)+len(ledger))
	for _, list := range [][]domain.HoldingKey{live, ledger} {
		for _, k := range list {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}
