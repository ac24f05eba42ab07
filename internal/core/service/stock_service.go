package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/platform/logger"
	"github.com/rl1809/custody-ledger/internal/port"
)

const defaultAggregateConcurrency = 8

// StockSource selects where aggregation reads holdings from.
type StockSource string

const (
	// SourceLedger replays every subject's ledger; live rows are not read.
	SourceLedger StockSource = "ledger"
	SourceLive   StockSource = "live"
)

func ParseStockSource(s string) (StockSource, error) {
	switch StockSource(s) {
	case "", SourceLedger:
		return SourceLedger, nil
	case SourceLive:
		return SourceLive, nil
	}
	return "", &domain.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", s)}
}

type StockService struct {
	store       port.DatabaseRepository
	roster      port.Roster
	log         *logger.Logger
	tracer      trace.Tracer
	concurrency int
}

func NewStockService(store port.DatabaseRepository, roster port.Roster, log *logger.Logger, concurrency int) *StockService {
	if log == nil {
		log = logger.Nop()
	}
	if concurrency <= 0 {
		concurrency = defaultAggregateConcurrency
	}
	return &StockService{
		store:       store,
		roster:      roster,
		log:         log,
		tracer:      otel.Tracer("custody-ledger/service"),
		concurrency: concurrency,
	}
}

type placedHolding struct {
	group   string
	holding domain.Holding
}

// AggregateByGroup sums every subject's holding in category per (group, item).
// Subjects the roster cannot place land in domain.UnknownGroup, so the totals
// always equal the sum over all subjects.
func (s *StockService) AggregateByGroup(ctx context.Context, category domain.Category, source StockSource) ([]domain.GroupStock, error) {
	ctx, span := s.tracer.Start(ctx, "StockService.AggregateByGroup", trace.WithAttributes(
		attribute.String("custody.category", string(category)),
		attribute.String("custody.source", string(source)),
	))
	defer span.End()

	if !category.Valid() {
		return nil, &domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}

	var keys []domain.HoldingKey
	var err error
	switch source {
	case SourceLedger, "":
		source = SourceLedger
		keys, err = s.store.ListLedgerKeys(ctx, category)
	case SourceLive:
		keys, err = s.store.ListHoldingKeys(ctx, category)
	default:
		return nil, &domain.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}
	if err != nil {
		return nil, err
	}

	placed := make([]placedHolding, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			h, err := s.load(gctx, key, source)
			if err != nil {
				return fmt.Errorf("load %s: %w", key, err)
			}
			group, err := s.groupOf(gctx, key.SubjectID)
			if err != nil {
				return fmt.Errorf("roster lookup %s: %w", key.SubjectID, err)
			}
			placed[i] = placedHolding{group: group, holding: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := sumByGroup(placed)
	span.SetAttributes(attribute.Int("custody.subjects", len(keys)), attribute.Int("custody.rows", len(out)))
	s.log.Debug("stock aggregated", "category", string(category), "source", string(source), "subjects", len(keys), "rows", len(out))
	return out, nil
}

func (s *StockService) load(ctx context.Context, key domain.HoldingKey, source StockSource) (domain.Holding, error) {
	if source == SourceLive {
		h, err := s.store.GetHolding(ctx, key)
		if err != nil || h == nil {
			return domain.NewHolding(key), err
		}
		return *h, nil
	}
	events, err := s.store.ListEvents(ctx, key)
	if err != nil {
		return domain.Holding{}, err
	}
	return domain.Replay(key, events).Holding, nil
}

func (s *StockService) groupOf(ctx context.Context, subjectID string) (string, error) {
	if s.roster == nil {
		return domain.UnknownGroup, nil
	}
	group, err := s.roster.GetGroup(ctx, subjectID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && group == "") {
		return domain.UnknownGroup, nil
	}
	return group, err
}

type groupItem struct {
	group  string
	itemID string
}

func sumByGroup(placed []placedHolding) []domain.GroupStock {
	rows := make(map[groupItem]*domain.GroupStock)
	for _, p := range placed {
		for itemID, b := range p.holding.Items {
			if b.Total() == 0 {
				continue
			}
			k := groupItem{group: p.group, itemID: itemID}
			row, ok := rows[k]
			if !ok {
				row = &domain.GroupStock{Group: p.group, ItemID: itemID}
				rows[k] = row
			}
			row.QuantityActive += b.QuantityActive
			row.QuantityStored += b.QuantityStored
			row.SubjectCount++
		}
	}

	out := make([]domain.GroupStock, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}
