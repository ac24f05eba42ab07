package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/platform/logger"
	"github.com/rl1809/custody-ledger/internal/port"
)

const deleteUnitAttempts = 3

// InventoryService administers the serial unit register. Units enter as
// available; every later transition happens inside CustodyService.Apply.
type InventoryService struct {
	store      port.SerialRepository
	log        *logger.Logger
	serialized map[domain.Category]bool
	newID      func() string
}

func NewInventoryService(store port.SerialRepository, log *logger.Logger, serialized ...domain.Category) *InventoryService {
	if log == nil {
		log = logger.Nop()
	}
	if len(serialized) == 0 {
		serialized = []domain.Category{domain.CategoryWeapons}
	}
	s := &InventoryService{
		store:      store,
		log:        log,
		serialized: make(map[domain.Category]bool, len(serialized)),
		newID:      uuid.NewString,
	}
	for _, c := range serialized {
		s.serialized[c] = true
	}
	return s
}

func (s *InventoryService) RegisterUnit(ctx context.Context, category domain.Category, serialNumber string) (domain.SerialUnit, error) {
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber == "" {
		return domain.SerialUnit{}, &domain.ValidationError{Field: "serialNumber", Reason: "required"}
	}
	if !s.serialized[category] {
		return domain.SerialUnit{}, &domain.ValidationError{Field: "category", Reason: fmt.Sprintf("category %q does not track serial units", category)}
	}

	unit := domain.NewSerialUnit(s.newID(), category, serialNumber)
	if err := s.store.CreateSerialUnit(ctx, unit); err != nil {
		if errors.Is(err, port.ErrDuplicateKey) {
			return domain.SerialUnit{}, &domain.ValidationError{Field: "serialNumber", Reason: fmt.Sprintf("serial %s already registered", serialNumber)}
		}
		return domain.SerialUnit{}, err
	}
	unit.Version = 1
	s.log.Info("serial unit registered", "unit_id", unit.ID, "serial", serialNumber, "category", string(category))
	return unit, nil
}

func (s *InventoryService) GetUnitBySerial(ctx context.Context, serialNumber string) (domain.SerialUnit, error) {
	u, err := s.store.GetSerialUnitBySerial(ctx, serialNumber)
	if err != nil {
		return domain.SerialUnit{}, err
	}
	if u == nil {
		return domain.SerialUnit{}, &domain.NotFoundError{Kind: "serial unit", ID: serialNumber}
	}
	return *u, nil
}

// ListUnits filters by status when status is non-empty.
func (s *InventoryService) ListUnits(ctx context.Context, category domain.Category, status domain.SerialStatus) ([]domain.SerialUnit, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return s.store.ListSerialUnits(ctx, category, status)
}

// DeleteUnit removes an available unit. The delete is conditional on the
// version read here, so a unit assigned in between is never removed.
func (s *InventoryService) DeleteUnit(ctx context.Context, id string) error {
	for attempt := 1; ; attempt++ {
		u, err := s.store.GetSerialUnit(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return &domain.NotFoundError{Kind: "serial unit", ID: id}
		}
		if err := u.CanDelete(); err != nil {
			return err
		}

		err = s.store.DeleteSerialUnit(ctx, id, u.Version)
		if err == nil {
			s.log.Info("serial unit deleted", "unit_id", id, "serial", u.SerialNumber)
			return nil
		}
		if !errors.Is(err, port.ErrWriteConflict) {
			return err
		}
		if attempt >= deleteUnitAttempts {
			return &domain.ConflictError{Key: domain.HoldingKey{SubjectID: u.SerialNumber, Category: u.Category}, Attempts: attempt}
		}
	}
}
