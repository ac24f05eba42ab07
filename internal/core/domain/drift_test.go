package domain

import (
	"testing"
	"time"
)

func TestNewDriftReport(t *testing.T) {
	key := HoldingKey{SubjectID: "S", Category: CategoryClothing}
	ts := time.Now()
	replay := Replay(key, []CustodyEvent{
		{ID: "e1", SubjectID: "S", Category: CategoryClothing, Action: ActionIssue, RequestID: "r1", Timestamp: ts,
			Items: []Item{{ItemID: "boots", Quantity: 2}, {ItemID: "cap", Quantity: 1}}},
	})

	live := replay.Holding.Clone()
	if r := NewDriftReport(live, replay); r.Drifted() {
		t.Fatalf("identical holdings reported drift: %+v", r.Items)
	}

	live.Items["boots"] = ItemBalance{QuantityActive: 1, QuantityStored: 1}
	live.Items["gloves"] = ItemBalance{QuantityActive: 4}
	r := NewDriftReport(live, replay)
	if len(r.Items) != 2 {
		t.Fatalf("expected 2 drifted items, got %+v", r.Items)
	}
	if r.Items[0].ItemID != "boots" || r.Items[1].ItemID != "gloves" {
		t.Errorf("expected sorted [boots gloves], got %s %s", r.Items[0].ItemID, r.Items[1].ItemID)
	}
	if r.Items[1].Replayed.Total() != 0 {
		t.Errorf("missing replay item should compare as zero, got %+v", r.Items[1].Replayed)
	}
}

func TestItemStatus(t *testing.T) {
	h := NewHolding(HoldingKey{SubjectID: "S", Category: CategoryClothing})
	h.Items["a"] = ItemBalance{QuantityActive: 1}
	h.Items["b"] = ItemBalance{QuantityStored: 1}
	h.Items["c"] = ItemBalance{}

	want := map[string]DisplayStatus{"a": StatusIssued, "b": StatusInStorage, "c": StatusReturned, "d": StatusPending}
	for id, status := range want {
		if got := h.ItemStatus(id); got != status {
			t.Errorf("%s: expected %s, got %s", id, status, got)
		}
	}
}
