package domain

import (
	"sort"
	"time"
)

type ItemBalance struct {
	QuantityActive int      `json:"quantityActive"`
	QuantityStored int      `json:"quantityStored"`
	Serials        []string `json:"serials"`
	// StoredSerials is the subset of Serials currently counted in QuantityStored.
	StoredSerials  []string `json:"storedSerials,omitempty"`
}

func (b ItemBalance) Total() int {
	return b.QuantityActive + b.QuantityStored
}

func (b ItemBalance) clone() ItemBalance {
	out := b
	if b.Serials != nil {
		out.Serials = append([]string(nil), b.Serials...)
	}
	if b.StoredSerials != nil {
		out.StoredSerials = append([]string(nil), b.StoredSerials...)
	}
	return out
}

func (b ItemBalance) HasSerial(serial string) bool {
	return containsSorted(b.Serials, serial)
}

// IsStored reports whether serial is held and counted in QuantityStored.
func (b ItemBalance) IsStored(serial string) bool {
	return containsSorted(b.StoredSerials, serial)
}

func (b *ItemBalance) addSerials(serials []string) {
	b.Serials = addSorted(b.Serials, serials)
}

func (b *ItemBalance) removeSerials(serials []string) {
	b.Serials = removeSorted(b.Serials, serials)
	b.StoredSerials = removeSorted(b.StoredSerials, serials)
}

func containsSorted(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}

func addSorted(list, add []string) []string {
	for _, s := range add {
		if containsSorted(list, s) {
			continue
		}
		list = append(list, s)
		sort.Strings(list)
	}
	return list
}

func removeSorted(list, drop []string) []string {
	if len(list) == 0 {
		return list
	}
	gone := make(map[string]bool, len(drop))
	for _, s := range drop {
		gone[s] = true
	}
	kept := list[:0]
	for _, s := range list {
		if !gone[s] {
			kept = append(kept, s)
		}
	}
	return kept
}

// Holding is the current-state projection for one (subject, category) pair.
// Version is the optimistic concurrency token maintained by the stores.
type Holding struct {
	SubjectID   string                 `json:"subjectId"`
	Category    Category               `json:"category"`
	Items       map[string]ItemBalance `json:"items"`
	LastEventID string                 `json:"lastEventId"`
	LastUpdated time.Time              `json:"lastUpdated"`
	Version     int64                  `json:"-"`
}

func NewHolding(key HoldingKey) Holding {
	return Holding{
		SubjectID: key.SubjectID,
		Category:  key.Category,
		Items:     make(map[string]ItemBalance),
	}
}

func (h Holding) Key() HoldingKey {
	return HoldingKey{SubjectID: h.SubjectID, Category: h.Category}
}

// Exists reports whether the holding has ever been written.
func (h Holding) Exists() bool {
	return h.Version > 0 || h.LastEventID != ""
}

func (h Holding) Clone() Holding {
	out := h
	out.Items = make(map[string]ItemBalance, len(h.Items))
	for id, b := range h.Items {
		out.Items[id] = b.clone()
	}
	return out
}

func (h Holding) Item(itemID string) ItemBalance {
	return h.Items[itemID]
}

// ItemIDs returns item ids in sorted order.
func (h Holding) ItemIDs() []string {
	ids := make([]string, 0, len(h.Items))
	for id := range h.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApplyEvent folds ev into h using the shared transition table and returns
// any deficits encountered. The holding is always left clamped at zero.
func (h *Holding) ApplyEvent(ev CustodyEvent) []Deficit {
	if h.Items == nil {
		h.Items = make(map[string]ItemBalance)
	}
	var deficits []Deficit
	for _, item := range ev.Items {
		next, available := ApplyItem(h.Items[item.ItemID], ev.Action, item)
		if missing := item.Quantity - available; missing > 0 {
			deficits = append(deficits, Deficit{
				ItemID:    item.ItemID,
				Action:    ev.Action,
				Requested: item.Quantity,
				Available: available,
			})
		}
		h.Items[item.ItemID] = next
	}
	h.LastEventID = ev.ID
	h.LastUpdated = ev.Timestamp
	return deficits
}

// Overflow returns the index of the first item in ev that would push one of
// h's pools past math.MaxInt.
func (h Holding) Overflow(ev CustodyEvent) (int, bool) {
	touched := make(map[string]ItemBalance, len(ev.Items))
	for i, item := range ev.Items {
		b, ok := touched[item.ItemID]
		if !ok {
			b = h.Items[item.ItemID]
		}
		if Overflows(b, ev.Action, item) {
			return i, true
		}
		touched[item.ItemID], _ = ApplyItem(b, ev.Action, item)
	}
	return 0, false
}

type Deficit struct {
	ItemID    string `json:"itemId"`
	Action    Action `json:"action"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}
