package domain

// ApplyRequest is one custody operation submitted by a client device.
// RequestID is the client-supplied idempotency token.
type ApplyRequest struct {
	SubjectID   string   `json:"subjectId" validate:"required,max=128"`
	SubjectName string   `json:"subjectName,omitempty"`
	Category    Category `json:"category" validate:"required"`
	Action      Action   `json:"action" validate:"required"`
	Items       []Item   `json:"items" validate:"required,min=1,dive"`
	ActorID     string   `json:"actorId" validate:"required"`
	RequestID   string   `json:"requestId" validate:"required,max=128"`
	EvidenceRef string   `json:"evidenceRef,omitempty"`
}

func (r ApplyRequest) Key() HoldingKey {
	return HoldingKey{SubjectID: r.SubjectID, Category: r.Category}
}

type Result struct {
	EventID   string  `json:"eventId"`
	RequestID string  `json:"requestId"`
	Holding   Holding `json:"holding"`
	Duplicate bool    `json:"duplicate"`
}

// UnknownGroup buckets subjects the roster cannot place.
const UnknownGroup = "unknown"

type GroupStock struct {
	Group          string `json:"group"`
	ItemID         string `json:"itemId"`
	QuantityActive int    `json:"quantityActive"`
	QuantityStored int    `json:"quantityStored"`
	SubjectCount   int    `json:"subjectCount"`
}
