package domain

import "time"

type Item struct {
	ItemID   string   `json:"itemId" validate:"required"`
	ItemName string   `json:"itemName"`
	Quantity int      `json:"quantity" validate:"gt=0,max=1000000"`
	Serials  []string `json:"serials,omitempty" validate:"omitempty,dive,required"`
}

// CustodyEvent is an immutable ledger entry. Only the writer creates them.
type CustodyEvent struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subjectId"`
	Category    Category  `json:"category"`
	Action      Action    `json:"action"`
	Items       []Item    `json:"items"`
	ActorID     string    `json:"actorId"`
	RequestID   string    `json:"requestId"`
	Timestamp   time.Time `json:"timestamp"`
	EvidenceRef string    `json:"evidenceRef,omitempty"`
}

func (e CustodyEvent) Key() HoldingKey {
	return HoldingKey{SubjectID: e.SubjectID, Category: e.Category}
}

// CommittedEvent pairs a ledger entry with the holding it produced, so a
// replayed request can be answered with the original result.
type CommittedEvent struct {
	Event   CustodyEvent
	Holding Holding
}

type HoldingKey struct {
	SubjectID string   `json:"subjectId"`
	Category  Category `json:"category"`
}

func (k HoldingKey) String() string {
	return string(k.Category) + ":" + k.SubjectID
}
