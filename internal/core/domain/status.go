package domain

// DisplayStatus is an output label for collaborators; the core never
// branches on it.
type DisplayStatus string

const (
	StatusPending   DisplayStatus = "pending"
	StatusIssued    DisplayStatus = "issued"
	StatusInStorage DisplayStatus = "in-storage"
	StatusReturned  DisplayStatus = "returned"
)

func (b ItemBalance) DisplayStatus() DisplayStatus {
	switch {
	case b.QuantityActive > 0:
		return StatusIssued
	case b.QuantityStored > 0:
		return StatusInStorage
	default:
		return StatusReturned
	}
}

// ItemStatus labels itemID within h; items never seen are pending.
func (h Holding) ItemStatus(itemID string) DisplayStatus {
	b, ok := h.Items[itemID]
	if !ok {
		return StatusPending
	}
	return b.DisplayStatus()
}
