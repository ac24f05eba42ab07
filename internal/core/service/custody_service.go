package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/platform/logger"
	"github.com/rl1809/custody-ledger/internal/port"
)

const (
	defaultMaxRetries = 5
	defaultLockTTL    = 5 * time.Second
	retryBaseDelay    = 2 * time.Millisecond
	retryMaxDelay     = 50 * time.Millisecond
)

// CustodyService is the transactional writer and the reconciliation entry
// point for holdings.
type CustodyService struct {
	store      port.DatabaseRepository
	cache      port.CacheRepository
	locker     port.Locker
	metrics    port.MetricsRecorder
	log        *logger.Logger
	tracer     trace.Tracer
	validate   *validator.Validate
	maxRetries int
	lockTTL    time.Duration
	serialized map[domain.Category]bool
	now        func() time.Time
	newID      func() string
}

type Option func(*CustodyService)

func WithCache(cache port.CacheRepository) Option {
	return func(s *CustodyService) { s.cache = cache }
}

func WithLocker(locker port.Locker) Option {
	return func(s *CustodyService) { s.locker = locker }
}

func WithMetrics(m port.MetricsRecorder) Option {
	return func(s *CustodyService) { s.metrics = m }
}

func WithMaxRetries(n int) Option {
	return func(s *CustodyService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithSerializedCategories replaces the set of categories whose items are
// tracked as individual serial units.
func WithSerializedCategories(categories ...domain.Category) Option {
	return func(s *CustodyService) {
		s.serialized = make(map[domain.Category]bool, len(categories))
		for _, c := range categories {
			s.serialized[c] = true
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *CustodyService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *CustodyService) { s.newID = newID }
}

func NewCustodyService(store port.DatabaseRepository, log *logger.Logger, opts ...Option) *CustodyService {
	if log == nil {
		log = logger.Nop()
	}
	s := &CustodyService{
		store:      store,
		metrics:    port.NopMetrics{},
		log:        log,
		tracer:     otel.Tracer("custody-ledger/service"),
		validate:   newValidator(),
		maxRetries: defaultMaxRetries,
		lockTTL:    defaultLockTTL,
		serialized: map[domain.Category]bool{domain.CategoryWeapons: true},
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serialized reports whether items of category c carry serial units.
func (s *CustodyService) Serialized(c domain.Category) bool {
	return s.serialized[c]
}

// Apply validates and commits one custody operation. A request whose
// requestId was already committed for the same holding returns the original
// result together with a *domain.DuplicateRequestError.
func (s *CustodyService) Apply(ctx context.Context, req domain.ApplyRequest) (domain.Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "CustodyService.Apply", trace.WithAttributes(
		attribute.String("custody.subject_id", req.SubjectID),
		attribute.String("custody.category", string(req.Category)),
		attribute.String("custody.action", string(req.Action)),
		attribute.String("custody.request_id", req.RequestID),
	))
	defer span.End()

	result, err := s.apply(ctx, req)

	outcome := outcomeOf(err)
	s.metrics.Observe(ctx, string(req.Action), outcome, time.Since(start))
	span.SetAttributes(attribute.String("custody.outcome", outcome))
	if err != nil && !errors.Is(err, domain.ErrDuplicateRequest) {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return result, err
}

func (s *CustodyService) apply(ctx context.Context, req domain.ApplyRequest) (domain.Result, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Result{}, err
	}
	key := req.Key()
	log := s.log.With("holding", key.String(), "request_id", req.RequestID, "action", string(req.Action))
	cacheKey := key.String() + ":" + req.RequestID

	if s.cache != nil {
		cached, err := s.cache.GetResult(ctx, cacheKey)
		if err != nil {
			log.Warn("result cache read failed", "error", err)
		} else if cached != nil {
			cached.Duplicate = true
			return *cached, &domain.DuplicateRequestError{RequestID: req.RequestID, EventID: cached.EventID}
		}
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, key.String(), s.lockTTL)
		switch {
		case err == nil:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("advisory lock release failed", "error", err)
				}
			}()
		case errors.Is(err, port.ErrLockNotObtained):
			log.Debug("advisory lock busy, proceeding optimistically")
		default:
			log.Warn("advisory lock unavailable, proceeding optimistically", "error", err)
		}
	}

	var result domain.Result
	var err error
	for attempt := 1; ; attempt++ {
		result, err = s.applyOnce(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, port.ErrWriteConflict) {
			log.Debug("apply rejected", "error", err)
			return domain.Result{}, err
		}
		if attempt >= s.maxRetries {
			log.Warn("apply retries exhausted", "attempts", attempt, "error", err)
			return domain.Result{}, &domain.ConflictError{Key: key, Attempts: attempt}
		}
		s.metrics.Retry("apply")
		log.Debug("write conflict, retrying", "attempt", attempt)
		if err := backoff(ctx, attempt); err != nil {
			return domain.Result{}, err
		}
	}

	if s.cache != nil {
		cached := result
		cached.Duplicate = false
		if err := s.cache.PutResult(ctx, cacheKey, cached); err != nil {
			log.Warn("result cache write failed", "error", err)
		}
	}

	if result.Duplicate {
		return result, &domain.DuplicateRequestError{RequestID: req.RequestID, EventID: result.EventID}
	}
	log.Debug("apply committed", "event_id", result.EventID)
	return result, nil
}

// applyOnce is one read-validate-write pass inside a single store transaction.
func (s *CustodyService) applyOnce(ctx context.Context, req domain.ApplyRequest) (domain.Result, error) {
	var result domain.Result
	err := s.store.AtomicReadModifyWrite(ctx, req.Key(), func(ctx context.Context, tx port.Tx) error {
		committed, err := tx.FindCommitted(ctx, req.RequestID)
		if err != nil {
			return err
		}
		if committed != nil {
			result = domain.Result{
				EventID:   committed.Event.ID,
				RequestID: req.RequestID,
				Holding:   committed.Holding,
				Duplicate: true,
			}
			return nil
		}

		current, err := tx.GetHolding(ctx)
		if err != nil {
			return err
		}
		ev := domain.CustodyEvent{
			ID:          s.newID(),
			SubjectID:   req.SubjectID,
			Category:    req.Category,
			Action:      req.Action,
			Items:       req.Items,
			ActorID:     req.ActorID,
			RequestID:   req.RequestID,
			Timestamp:   s.commitTime(current.LastUpdated),
			EvidenceRef: req.EvidenceRef,
		}

		var units []domain.SerialUnit
		if s.serialized[req.Category] {
			units, err = s.transitionUnits(ctx, tx, req, current, ev.Timestamp)
			if err != nil {
				return err
			}
		}

		if i, overflow := current.Overflow(ev); overflow {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("items[%d].quantity", i),
				Reason: "would exceed the maximum balance",
			}
		}

		next := current.Clone()
		if deficits := next.ApplyEvent(ev); len(deficits) > 0 {
			d := deficits[0]
			return &domain.InsufficientQuantityError{
				ItemID:    d.ItemID,
				Action:    d.Action,
				Held:      d.Available,
				Requested: d.Requested,
			}
		}

		if err := tx.AppendEvent(ctx, ev, next); err != nil {
			return err
		}
		if err := tx.PutHolding(ctx, next); err != nil {
			return err
		}
		for _, u := range units {
			if err := tx.PutSerialUnit(ctx, u); err != nil {
				return err
			}
		}

		result = domain.Result{EventID: ev.ID, RequestID: req.RequestID, Holding: next}
		return nil
	})
	return result, err
}

// transitionUnits drives the serial state machine for every serial in req and
// returns the updated units. Nothing is written here.
func (s *CustodyService) transitionUnits(ctx context.Context, tx port.Tx, req domain.ApplyRequest, current domain.Holding, since time.Time) ([]domain.SerialUnit, error) {
	var serials []string
	owner := make(map[string]string)
	for _, item := range req.Items {
		for _, serial := range item.Serials {
			serials = append(serials, serial)
			owner[serial] = item.ItemID
		}
	}
	if len(serials) == 0 {
		return nil, nil
	}

	found, err := tx.GetSerialUnits(ctx, serials)
	if err != nil {
		return nil, err
	}
	bySerial := make(map[string]domain.SerialUnit, len(found))
	for _, u := range found {
		bySerial[u.SerialNumber] = u
	}

	units := make([]domain.SerialUnit, 0, len(serials))
	for _, serial := range serials {
		u, ok := bySerial[serial]
		if !ok || u.Category != req.Category {
			return nil, &domain.NotFoundError{Kind: "serial unit", ID: serial}
		}

		if req.Action != domain.ActionIssue && req.Action != domain.ActionAdd {
			if !u.HeldBy(req.SubjectID) {
				return nil, notHeldError(u)
			}
			if !current.Item(owner[serial]).HasSerial(serial) {
				return nil, &domain.NotFoundError{Kind: "serial in holding item " + owner[serial], ID: serial}
			}
		}

		switch req.Action {
		case domain.ActionIssue, domain.ActionAdd:
			err = u.Assign(req.SubjectID, req.SubjectName, since)
		case domain.ActionReturn, domain.ActionCredit:
			if u.Status == domain.SerialStored {
				if err = u.RetrieveFromStorage(); err != nil {
					break
				}
			}
			err = u.Release()
		case domain.ActionStorage:
			err = u.MoveToStorage()
		case domain.ActionRetrieve:
			err = u.RetrieveFromStorage()
		}
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func notHeldError(u domain.SerialUnit) error {
	e := &domain.SerialStateError{Serial: u.SerialNumber, From: u.Status, Want: domain.SerialAssigned}
	if u.AssignedTo != nil {
		e.Holder = u.AssignedTo.SubjectID
	}
	return e
}

// commitTime is strictly after the holding's previous event so the ledger
// order per holding matches commit order even when clocks stall.
func (s *CustodyService) commitTime(last time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	return now
}

// GetHolding returns the live projection; NotFoundError if nothing was ever
// committed for the pair.
func (s *CustodyService) GetHolding(ctx context.Context, key domain.HoldingKey) (domain.Holding, error) {
	h, err := s.store.GetHolding(ctx, key)
	if err != nil {
		return domain.Holding{}, err
	}
	if h == nil {
		return domain.Holding{}, &domain.NotFoundError{Kind: "holding", ID: key.String()}
	}
	return *h, nil
}

// ListEvents returns the ledger history of one holding in replay order.
func (s *CustodyService) ListEvents(ctx context.Context, key domain.HoldingKey) ([]domain.CustodyEvent, error) {
	events, err := s.store.ListEvents(ctx, key)
	if err != nil {
		return nil, err
	}
	return domain.SortEvents(events), nil
}

func backoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrInsufficientQuantity):
		return "insufficient"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrSerialState):
		return "serial_state"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
