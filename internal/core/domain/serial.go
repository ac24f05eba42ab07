package domain

import "time"

type SerialStatus string

const (
	SerialAvailable SerialStatus = "available"
	SerialAssigned  SerialStatus = "assigned"
	SerialStored    SerialStatus = "stored"
)

func (s SerialStatus) Valid() bool {
	switch s {
	case SerialAvailable, SerialAssigned, SerialStored:
		return true
	}
	return false
}

type Assignment struct {
	SubjectID   string    `json:"subjectId"`
	SubjectName string    `json:"subjectName"`
	Since       time.Time `json:"since"`
}

// SerialUnit is one individually tracked physical item. AssignedTo is set
// while the unit is assigned or stored.
type SerialUnit struct {
	ID           string       `json:"id"`
	Category     Category     `json:"category"`
	SerialNumber string       `json:"serialNumber"`
	Status       SerialStatus `json:"status"`
	AssignedTo   *Assignment  `json:"assignedTo,omitempty"`
	Version      int64        `json:"-"`
}

func NewSerialUnit(id string, category Category, serialNumber string) SerialUnit {
	return SerialUnit{
		ID:           id,
		Category:     category,
		SerialNumber: serialNumber,
		Status:       SerialAvailable,
	}
}

func (u SerialUnit) Clone() SerialUnit {
	out := u
	if u.AssignedTo != nil {
		a := *u.AssignedTo
		out.AssignedTo = &a
	}
	return out
}

// HeldBy reports whether the unit is assigned or stored on behalf of subjectID.
func (u SerialUnit) HeldBy(subjectID string) bool {
	return u.AssignedTo != nil && u.AssignedTo.SubjectID == subjectID
}

func (u *SerialUnit) Assign(subjectID, subjectName string, since time.Time) error {
	if u.Status != SerialAvailable {
		return u.stateError(SerialAvailable)
	}
	u.Status = SerialAssigned
	u.AssignedTo = &Assignment{SubjectID: subjectID, SubjectName: subjectName, Since: since}
	return nil
}

// MoveToStorage keeps the assignment link: the subject stays responsible
// while the unit sits in the depot.
func (u *SerialUnit) MoveToStorage() error {
	if u.Status != SerialAssigned {
		return u.stateError(SerialAssigned)
	}
	u.Status = SerialStored
	return nil
}

func (u *SerialUnit) RetrieveFromStorage() error {
	if u.Status != SerialStored {
		return u.stateError(SerialStored)
	}
	u.Status = SerialAssigned
	return nil
}

func (u *SerialUnit) Release() error {
	if u.Status != SerialAssigned {
		return u.stateError(SerialAssigned)
	}
	u.Status = SerialAvailable
	u.AssignedTo = nil
	return nil
}

// CanDelete returns an error unless the unit is available.
func (u SerialUnit) CanDelete() error {
	if u.Status != SerialAvailable {
		return u.stateError(SerialAvailable)
	}
	return nil
}

func (u SerialUnit) stateError(want SerialStatus) error {
	return &SerialStateError{Serial: u.SerialNumber, From: u.Status, Want: want}
}
