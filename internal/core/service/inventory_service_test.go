package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rl1809/custody-ledger/internal/adapter/storage"
	"github.com/rl1809/custody-ledger/internal/core/domain"
)

type armory struct {
	custody   *CustodyService
	inventory *InventoryService
	store     *storage.MemoryAdapter
}

func newArmory(t *testing.T, serials ...string) *armory {
	t.Helper()
	custody, store := newTestService()
	inventory := NewInventoryService(store, nil)
	for _, serial := range serials {
		if _, err := inventory.RegisterUnit(context.Background(), domain.CategoryWeapons, serial); err != nil {
			t.Fatalf("register %s: %v", serial, err)
		}
	}
	return &armory{custody: custody, inventory: inventory, store: store}
}

func (a *armory) unit(t *testing.T, serial string) domain.SerialUnit {
	t.Helper()
	u, err := a.inventory.GetUnitBySerial(context.Background(), serial)
	if err != nil {
		t.Fatalf("GetUnitBySerial %s: %v", serial, err)
	}
	return u
}

func TestSerialLifecycle(t *testing.T) {
	a := newArmory(t, "SN123")
	ctx := context.Background()

	res := mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "SN123"))
	u := a.unit(t, "SN123")
	if u.Status != domain.SerialAssigned || !u.HeldBy("S") {
		t.Fatalf("expected assigned to S, got %+v", u)
	}
	if u.AssignedTo.SubjectName != "Pvt. S" || !u.AssignedTo.Since.Equal(res.Holding.LastUpdated) {
		t.Errorf("unexpected assignment %+v", u.AssignedTo)
	}
	if !res.Holding.Item("rifle").HasSerial("SN123") {
		t.Error("holding should list the serial")
	}
	since := u.AssignedTo.Since

	mustApply(t, a.custody, weaponRequest("r2", domain.ActionStorage, "SN123"))
	u = a.unit(t, "SN123")
	if u.Status != domain.SerialStored || !u.HeldBy("S") || !u.AssignedTo.Since.Equal(since) {
		t.Fatalf("expected stored with assignment kept, got %+v", u)
	}

	err := a.inventory.DeleteUnit(ctx, u.ID)
	var stateErr *domain.SerialStateError
	if !errors.As(err, &stateErr) || stateErr.From != domain.SerialStored {
		t.Fatalf("expected SerialStateError from stored, got %v", err)
	}

	res = mustApply(t, a.custody, weaponRequest("r3", domain.ActionReturn, "SN123"))
	u = a.unit(t, "SN123")
	if u.Status != domain.SerialAvailable || u.AssignedTo != nil {
		t.Fatalf("expected available and unassigned, got %+v", u)
	}
	assertSplit(t, res.Holding, "rifle", 0, 0)
	if res.Holding.Item("rifle").HasSerial("SN123") {
		t.Error("returned serial still listed in holding")
	}

	if err := a.inventory.DeleteUnit(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUnit failed: %v", err)
	}
	if _, err := a.inventory.GetUnitBySerial(ctx, "SN123"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected deleted unit to be gone, got %v", err)
	}
}

func TestSerialRetrieveRestoresAssignment(t *testing.T) {
	a := newArmory(t, "SN1")

	mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "SN1"))
	mustApply(t, a.custody, weaponRequest("r2", domain.ActionStorage, "SN1"))
	res := mustApply(t, a.custody, weaponRequest("r3", domain.ActionRetrieve, "SN1"))

	if u := a.unit(t, "SN1"); u.Status != domain.SerialAssigned || !u.HeldBy("S") {
		t.Errorf("expected assigned to S, got %+v", u)
	}
	assertSplit(t, res.Holding, "rifle", 1, 0)
}

func TestSerialReturnOfActiveUnitLeavesStoredUnitStored(t *testing.T) {
	a := newArmory(t, "A", "B")
	ctx := context.Background()

	mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "A", "B"))
	mustApply(t, a.custody, weaponRequest("r2", domain.ActionStorage, "B"))
	res := mustApply(t, a.custody, weaponRequest("r3", domain.ActionReturn, "A"))

	assertSplit(t, res.Holding, "rifle", 0, 1)
	if b := res.Holding.Item("rifle"); !b.IsStored("B") || b.HasSerial("A") {
		t.Fatalf("unexpected rifle balance %+v", b)
	}
	if u := a.unit(t, "B"); u.Status != domain.SerialStored {
		t.Fatalf("expected B stored, got %s", u.Status)
	}

	report, err := a.custody.Audit(ctx, res.Holding.Key())
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if report.Drifted() {
		t.Errorf("replay disagrees with live holding: %+v", report.Items)
	}

	res = mustApply(t, a.custody, weaponRequest("r4", domain.ActionRetrieve, "B"))
	assertSplit(t, res.Holding, "rifle", 1, 0)
	if u := a.unit(t, "B"); u.Status != domain.SerialAssigned {
		t.Errorf("expected B assigned after retrieve, got %s", u.Status)
	}
	res = mustApply(t, a.custody, weaponRequest("r5", domain.ActionStorage, "B"))
	assertSplit(t, res.Holding, "rifle", 0, 1)
}

func TestSerialIssueOfAssignedUnitFails(t *testing.T) {
	a := newArmory(t, "SN1")
	ctx := context.Background()

	mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "SN1"))

	other := weaponRequest("r2", domain.ActionIssue, "SN1")
	other.SubjectID = "T"
	_, err := a.custody.Apply(ctx, other)
	if !errors.Is(err, domain.ErrSerialState) {
		t.Fatalf("expected ErrSerialState, got %v", err)
	}
	if _, err := a.custody.GetHolding(ctx, other.Key()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("failed issue must not create a holding, got %v", err)
	}
}

func TestSerialReturnBySomeoneElseFails(t *testing.T) {
	a := newArmory(t, "SN1")

	mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "SN1"))

	other := weaponRequest("r2", domain.ActionReturn, "SN1")
	other.SubjectID = "T"
	_, err := a.custody.Apply(context.Background(), other)
	var stateErr *domain.SerialStateError
	if !errors.As(err, &stateErr) || stateErr.Holder != "S" {
		t.Fatalf("expected SerialStateError naming holder S, got %v", err)
	}
	if u := a.unit(t, "SN1"); !u.HeldBy("S") {
		t.Errorf("unit changed hands: %+v", u)
	}
}

func TestSerialFailureIsAllOrNothing(t *testing.T) {
	a := newArmory(t, "SN1", "SN2")
	ctx := context.Background()

	mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "SN1"))

	// SN2 was never issued to S, so the whole return must be rejected
	_, err := a.custody.Apply(ctx, weaponRequest("r2", domain.ActionReturn, "SN1", "SN2"))
	if !errors.Is(err, domain.ErrSerialState) {
		t.Fatalf("expected ErrSerialState, got %v", err)
	}
	if u := a.unit(t, "SN1"); u.Status != domain.SerialAssigned {
		t.Errorf("SN1 must stay assigned, got %s", u.Status)
	}
	evs, _ := a.store.ListEvents(ctx, domain.HoldingKey{SubjectID: "S", Category: domain.CategoryWeapons})
	if len(evs) != 1 {
		t.Errorf("expected 1 event, got %d", len(evs))
	}
}

func TestSerialUnknownUnit(t *testing.T) {
	a := newArmory(t)
	_, err := a.custody.Apply(context.Background(), weaponRequest("r1", domain.ActionIssue, "SN-missing"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterUnit_Validation(t *testing.T) {
	a := newArmory(t, "SN1")
	ctx := context.Background()

	if _, err := a.inventory.RegisterUnit(ctx, domain.CategoryWeapons, "SN1"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("duplicate serial: expected ErrValidation, got %v", err)
	}
	if _, err := a.inventory.RegisterUnit(ctx, domain.CategoryClothing, "SN9"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("quantity category: expected ErrValidation, got %v", err)
	}
	if _, err := a.inventory.RegisterUnit(ctx, domain.CategoryWeapons, "  "); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank serial: expected ErrValidation, got %v", err)
	}
}

func TestListUnits_FiltersByStatus(t *testing.T) {
	a := newArmory(t, "SN3", "SN1", "SN2")
	ctx := context.Background()

	mustApply(t, a.custody, weaponRequest("r1", domain.ActionIssue, "SN2"))

	all, err := a.inventory.ListUnits(ctx, domain.CategoryWeapons, "")
	if err != nil {
		t.Fatalf("ListUnits failed: %v", err)
	}
	if len(all) != 3 || all[0].SerialNumber != "SN1" || all[2].SerialNumber != "SN3" {
		t.Errorf("unexpected listing %+v", all)
	}

	available, _ := a.inventory.ListUnits(ctx, domain.CategoryWeapons, domain.SerialAvailable)
	if len(available) != 2 {
		t.Errorf("expected 2 available, got %d", len(available))
	}

	if _, err := a.inventory.ListUnits(ctx, domain.CategoryWeapons, "lost"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestDeleteUnit_NotFound(t *testing.T) {
	a := newArmory(t)
	if err := a.inventory.DeleteUnit(context.Background(), "no-such-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
