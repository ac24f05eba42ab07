package port

import (
	"context"
	"errors"

	"github.com/rl1809/custody-ledger/internal/core/domain"
)

var (
	// ErrWriteConflict is returned when another transaction changed a row read
	// by the current one. Callers retry from a fresh read.
	ErrWriteConflict = errors.New("write conflict")

	// ErrDuplicateKey is returned when a unique key is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Tx is the read-modify-write view of one holding handed to AtomicReadModifyWrite.
type Tx interface {
	// FindCommitted returns the event recorded for requestID on this holding, or nil
	FindCommitted(ctx context.Context, requestID string) (*domain.CommittedEvent, error)

	// GetHolding returns the current holding, or an empty one with Version 0
	GetHolding(ctx context.Context) (domain.Holding, error)

	// ListEvents returns the ledger of this holding in commit order
	ListEvents(ctx context.Context) ([]domain.CustodyEvent, error)

	// GetSerialUnits returns the units matching serials; unknown serials are omitted
	GetSerialUnits(ctx context.Context, serials []string) ([]domain.SerialUnit, error)

	// AppendEvent records ev together with the holding it produced
	AppendEvent(ctx context.Context, ev domain.CustodyEvent, result domain.Holding) error

	// PutHolding writes h if its Version still matches the stored one
	PutHolding(ctx context.Context, h domain.Holding) error

	// PutSerialUnit writes u if its Version still matches the stored one
	PutSerialUnit(ctx context.Context, u domain.SerialUnit) error
}

type DatabaseRepository interface {
	// AtomicReadModifyWrite runs fn in one transaction scoped to key. Either every
	// write made through tx commits or none does; conflicts surface as ErrWriteConflict.
	AtomicReadModifyWrite(ctx context.Context, key domain.HoldingKey, fn func(ctx context.Context, tx Tx) error) error

	// GetHolding retrieves the live holding, nil if it was never written
	GetHolding(ctx context.Context, key domain.HoldingKey) (*domain.Holding, error)

	// ListEvents returns the ledger of key in commit order
	ListEvents(ctx context.Context, key domain.HoldingKey) ([]domain.CustodyEvent, error)

	// ListHoldingKeys returns every holding written for category
	ListHoldingKeys(ctx context.Context, category domain.Category) ([]domain.HoldingKey, error)

	// ListLedgerKeys returns every key with at least one event in category
	ListLedgerKeys(ctx context.Context, category domain.Category) ([]domain.HoldingKey, error)

	SerialRepository
}

type SerialRepository interface {
	// CreateSerialUnit registers a new unit, ErrDuplicateKey if the serial exists
	CreateSerialUnit(ctx context.Context, unit domain.SerialUnit) error

	// GetSerialUnit retrieves a unit by id, nil if absent
	GetSerialUnit(ctx context.Context, id string) (*domain.SerialUnit, error)

	// GetSerialUnitBySerial retrieves a unit by serial number, nil if absent
	GetSerialUnitBySerial(ctx context.Context, serial string) (*domain.SerialUnit, error)

	// ListSerialUnits filters by category and, when non-empty, status
	ListSerialUnits(ctx context.Context, category domain.Category, status domain.SerialStatus) ([]domain.SerialUnit, error)

	// DeleteSerialUnit removes an available unit whose version still matches
	DeleteSerialUnit(ctx context.Context, id string, version int64) error
}
