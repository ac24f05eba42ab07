package domain

import "sort"

type ItemDrift struct {
	ItemID         string      `json:"itemId"`
	Live           ItemBalance `json:"live"`
	Replayed       ItemBalance `json:"replayed"`
	SerialMismatch bool        `json:"serialMismatch,omitempty"`
}

// DriftReport compares a live holding against its replayed ledger.
type DriftReport struct {
	Key           HoldingKey    `json:"key"`
	Live          Holding       `json:"live"`
	Replayed      Holding       `json:"replayed"`
	Items         []ItemDrift   `json:"items,omitempty"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Rebuilt       bool          `json:"rebuilt"`
}

func (r DriftReport) Drifted() bool {
	return len(r.Items) > 0
}

func NewDriftReport(live Holding, replay ReplayResult) DriftReport {
	return DriftReport{
		Key:           replay.Holding.Key(),
		Live:          live,
		Replayed:      replay.Holding,
		Items:         CompareHoldings(live, replay.Holding),
		Discrepancies: replay.Discrepancies,
	}
}

// CompareHoldings lists every item whose quantities or serials differ.
// Items missing on one side compare as zero balances.
func CompareHoldings(live, replayed Holding) []ItemDrift {
	ids := make(map[string]bool, len(live.Items)+len(replayed.Items))
	for id := range live.Items {
		ids[id] = true
	}
	for id := range replayed.Items {
		ids[id] = true
	}
	var out []ItemDrift
	for id := range ids {
		l, r := live.Items[id], replayed.Items[id]
		serialMismatch := !sameSerials(l.Serials, r.Serials) || !sameSerials(l.StoredSerials, r.StoredSerials)
		if l.QuantityActive == r.QuantityActive && l.QuantityStored == r.QuantityStored && !serialMismatch {
			continue
		}
		out = append(out, ItemDrift{ItemID: id, Live: l, Replayed: r, SerialMismatch: serialMismatch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func sameSerials(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
