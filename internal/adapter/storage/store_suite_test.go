package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/port"
)

type suiteStore interface {
	port.DatabaseRepository
	port.Roster
	SetGroup(ctx context.Context, subjectID, group string) error
}

var suiteTime = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func issueEvent(key domain.HoldingKey, id, requestID string, qty int) domain.CustodyEvent {
	return domain.CustodyEvent{
		ID:        id,
		SubjectID: key.SubjectID,
		Category:  key.Category,
		Action:    domain.ActionIssue,
		Items:     []domain.Item{{ItemID: "vest", ItemName: "Vest", Quantity: qty}},
		ActorID:   "actor",
		RequestID: requestID,
		Timestamp: suiteTime,
	}
}

// commitIssue applies a single issue event through the store the way the
// writer does: read, fold, append, put.
func commitIssue(ctx context.Context, store port.DatabaseRepository, key domain.HoldingKey, id, requestID string, qty int) error {
	return store.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
		h, err := tx.GetHolding(ctx)
		if err != nil {
			return err
		}
		ev := issueEvent(key, id, requestID, qty)
		h.ApplyEvent(ev)
		if err := tx.AppendEvent(ctx, ev, h); err != nil {
			return err
		}
		return tx.PutHolding(ctx, h)
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) suiteStore) {
	t.Run("CommitAndRead", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryClothing}

		if err := commitIssue(ctx, store, key, "e-1", "r-1", 2); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		h, err := store.GetHolding(ctx, key)
		if err != nil {
			t.Fatalf("GetHolding failed: %v", err)
		}
		if h == nil {
			t.Fatal("expected holding, got nil")
		}
		if h.Item("vest").QuantityActive != 2 {
			t.Errorf("expected 2 active, got %d", h.Item("vest").QuantityActive)
		}
		if h.Version != 1 {
			t.Errorf("expected version 1, got %d", h.Version)
		}
		if h.LastEventID != "e-1" || !h.LastUpdated.Equal(suiteTime) {
			t.Errorf("unexpected last event %s at %v", h.LastEventID, h.LastUpdated)
		}

		evs, err := store.ListEvents(ctx, key)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(evs) != 1 || evs[0].RequestID != "r-1" || evs[0].Items[0].Quantity != 2 {
			t.Errorf("unexpected events %+v", evs)
		}
	})

	t.Run("FindCommittedReturnsResult", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryClothing}

		if err := commitIssue(ctx, store, key, "e-1", "r-1", 3); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		var found *domain.CommittedEvent
		err := store.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
			var err error
			found, err = tx.FindCommitted(ctx, "r-1")
			return err
		})
		if err != nil {
			t.Fatalf("FindCommitted failed: %v", err)
		}
		if found == nil || found.Event.ID != "e-1" || found.Holding.Item("vest").QuantityActive != 3 {
			t.Errorf("unexpected committed event %+v", found)
		}
	})

	t.Run("DuplicateRequestConflicts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryClothing}

		if err := commitIssue(ctx, store, key, "e-1", "r-1", 1); err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		err := commitIssue(ctx, store, key, "e-2", "r-1", 1)
		if !errors.Is(err, port.ErrWriteConflict) {
			t.Errorf("expected ErrWriteConflict, got: %v", err)
		}

		evs, _ := store.ListEvents(ctx, key)
		if len(evs) != 1 {
			t.Errorf("expected 1 event, got %d", len(evs))
		}
	})

	t.Run("StaleHoldingVersionConflicts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryClothing}

		if err := commitIssue(ctx, store, key, "e-1", "r-1", 1); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		stale, err := store.GetHolding(ctx, key)
		if err != nil {
			t.Fatalf("GetHolding failed: %v", err)
		}
		if err := commitIssue(ctx, store, key, "e-2", "r-2", 1); err != nil {
			t.Fatalf("second commit failed: %v", err)
		}

		err = store.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
			h := stale.Clone()
			h.Items["vest"] = domain.ItemBalance{QuantityActive: 99}
			return tx.PutHolding(ctx, h)
		})
		if !errors.Is(err, port.ErrWriteConflict) {
			t.Errorf("expected ErrWriteConflict, got: %v", err)
		}

		h, _ := store.GetHolding(ctx, key)
		if h.Item("vest").QuantityActive != 2 {
			t.Errorf("expected 2 active after conflict, got %d", h.Item("vest").QuantityActive)
		}
	})

	t.Run("FailedCallbackLeavesNoTrace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryClothing}
		boom := errors.New("boom")

		err := store.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
			h, _ := tx.GetHolding(ctx)
			ev := issueEvent(key, "e-1", "r-1", 1)
			h.ApplyEvent(ev)
			if err := tx.AppendEvent(ctx, ev, h); err != nil {
				return err
			}
			if err := tx.PutHolding(ctx, h); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if h, _ := store.GetHolding(ctx, key); h != nil {
			t.Errorf("expected no holding, got %+v", h)
		}
		if evs, _ := store.ListEvents(ctx, key); len(evs) != 0 {
			t.Errorf("expected no events, got %d", len(evs))
		}
	})

	t.Run("ListKeys", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, subject := range []string{"b", "a"} {
			key := domain.HoldingKey{SubjectID: subject, Category: domain.CategoryClothing}
			if err := commitIssue(ctx, store, key, "e-"+subject, "r-"+subject, 1); err != nil {
				t.Fatalf("commit failed: %v", err)
			}
		}
		other := domain.HoldingKey{SubjectID: "c", Category: domain.CategoryCombatGear}
		if err := commitIssue(ctx, store, other, "e-c", "r-c", 1); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		for name, list := range map[string]func(context.Context, domain.Category) ([]domain.HoldingKey, error){
			"holdings": store.ListHoldingKeys,
			"ledger":   store.ListLedgerKeys,
		} {
			keys, err := list(ctx, domain.CategoryClothing)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if len(keys) != 2 || keys[0].SubjectID != "a" || keys[1].SubjectID != "b" {
				t.Errorf("%s: unexpected keys %+v", name, keys)
			}
		}
	})

	t.Run("SerialUnits", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryWeapons}

		unit := domain.NewSerialUnit("u-1", domain.CategoryWeapons, "SN123")
		if err := store.CreateSerialUnit(ctx, unit); err != nil {
			t.Fatalf("CreateSerialUnit failed: %v", err)
		}
		dup := domain.NewSerialUnit("u-2", domain.CategoryWeapons, "SN123")
		if err := store.CreateSerialUnit(ctx, dup); !errors.Is(err, port.ErrDuplicateKey) {
			t.Errorf("expected ErrDuplicateKey, got: %v", err)
		}

		err := store.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
			units, err := tx.GetSerialUnits(ctx, []string{"SN123", "SN-missing"})
			if err != nil {
				return err
			}
			if len(units) != 1 {
				t.Fatalf("expected 1 unit, got %d", len(units))
			}
			u := units[0]
			if err := u.Assign("s-1", "Pvt. Doe", suiteTime); err != nil {
				return err
			}
			return tx.PutSerialUnit(ctx, u)
		})
		if err != nil {
			t.Fatalf("assign tx failed: %v", err)
		}

		got, err := store.GetSerialUnitBySerial(ctx, "SN123")
		if err != nil || got == nil {
			t.Fatalf("GetSerialUnitBySerial: %v %v", got, err)
		}
		if got.Status != domain.SerialAssigned || got.AssignedTo == nil || got.AssignedTo.SubjectName != "Pvt. Doe" {
			t.Errorf("unexpected unit %+v", got)
		}
		if !got.AssignedTo.Since.Equal(suiteTime) {
			t.Errorf("expected since %v, got %v", suiteTime, got.AssignedTo.Since)
		}
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}

		if err := store.DeleteSerialUnit(ctx, got.ID, got.Version); !errors.Is(err, port.ErrWriteConflict) {
			t.Errorf("deleting assigned unit: expected ErrWriteConflict, got %v", err)
		}

		assigned, _ := store.ListSerialUnits(ctx, domain.CategoryWeapons, domain.SerialAssigned)
		available, _ := store.ListSerialUnits(ctx, domain.CategoryWeapons, domain.SerialAvailable)
		if len(assigned) != 1 || len(available) != 0 {
			t.Errorf("expected 1 assigned/0 available, got %d/%d", len(assigned), len(available))
		}

		spare := domain.NewSerialUnit("u-3", domain.CategoryWeapons, "SN999")
		if err := store.CreateSerialUnit(ctx, spare); err != nil {
			t.Fatalf("CreateSerialUnit failed: %v", err)
		}
		if err := store.DeleteSerialUnit(ctx, "u-3", 1); err != nil {
			t.Errorf("DeleteSerialUnit failed: %v", err)
		}
		if u, _ := store.GetSerialUnit(ctx, "u-3"); u != nil {
			t.Error("expected deleted unit to be gone")
		}
	})

	t.Run("Roster", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.GetGroup(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := store.SetGroup(ctx, "s-1", "alpha"); err != nil {
			t.Fatalf("SetGroup failed: %v", err)
		}
		if err := store.SetGroup(ctx, "s-1", "bravo"); err != nil {
			t.Fatalf("SetGroup update failed: %v", err)
		}
		if g, err := store.GetGroup(ctx, "s-1"); err != nil || g != "bravo" {
			t.Errorf("expected bravo, got %q (%v)", g, err)
		}
	})

	t.Run("ConcurrentDuplicateCommitsOnce", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.HoldingKey{SubjectID: "s-1", Category: domain.CategoryClothing}

		var successCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := commitIssue(ctx, store, key, "e-"+string(rune('a'+i)), "same-request", 1)
				if err == nil {
					successCount.Add(1)
				} else if !errors.Is(err, port.ErrWriteConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if successCount.Load() != 1 {
			t.Errorf("expected exactly 1 success, got %d", successCount.Load())
		}
		evs, _ := store.ListEvents(ctx, key)
		if len(evs) != 1 {
			t.Errorf("expected 1 event, got %d", len(evs))
		}
	})
}
