package domain

import "math"

// transition moves qty through a balance. It returns the clamped next balance
// and how much of qty the source pool could actually supply.
type transition func(b ItemBalance, item Item) (ItemBalance, int)

var transitions = map[Action]transition{
	ActionIssue:    receive,
	ActionAdd:      receive,
	ActionReturn:   release,
	ActionCredit:   release,
	ActionStorage:  toStorage,
	ActionRetrieve: fromStorage,
}

// ApplyItem is the single transition table shared by the writer and the
// replay engine. The writer rejects any shortfall, replay clamps it.
func ApplyItem(b ItemBalance, action Action, item Item) (ItemBalance, int) {
	t, ok := transitions[action]
	if !ok {
		return b, 0
	}
	return t(b.clone(), item)
}

// Overflows reports whether applying item would push a pool past math.MaxInt.
func Overflows(b ItemBalance, action Action, item Item) bool {
	switch action {
	case ActionIssue, ActionAdd, ActionRetrieve:
		return b.QuantityActive > math.MaxInt-item.Quantity
	case ActionStorage:
		return b.QuantityStored > math.MaxInt-item.Quantity
	}
	return false
}

func receive(b ItemBalance, item Item) (ItemBalance, int) {
	b.QuantityActive = saturatingAdd(b.QuantityActive, item.Quantity)
	b.addSerials(item.Serials)
	return b, item.Quantity
}

// release takes from stored first, then active. Serialized items instead draw
// each named unit from the pool it sits in.
func release(b ItemBalance, item Item) (ItemBalance, int) {
	available := b.Total()
	qty := item.Quantity

	fromStored := min(qty, b.QuantityStored)
	if len(item.Serials) > 0 {
		stored := 0
		for _, s := range item.Serials {
			if b.IsStored(s) {
				stored++
			}
		}
		fromStored = min(stored, b.QuantityStored)
	}
	fromActive := min(qty-fromStored, b.QuantityActive)
	if rest := qty - fromStored - fromActive; rest > 0 {
		fromStored += min(rest, b.QuantityStored-fromStored)
	}

	b.QuantityStored -= fromStored
	b.QuantityActive -= fromActive
	b.removeSerials(item.Serials)
	return b, available
}

func toStorage(b ItemBalance, item Item) (ItemBalance, int) {
	available := b.QuantityActive
	moved := min(item.Quantity, b.QuantityActive)
	b.QuantityActive -= moved
	b.QuantityStored = saturatingAdd(b.QuantityStored, moved)

	var held []string
	for _, s := range item.Serials {
		if b.HasSerial(s) {
			held = append(held, s)
		}
	}
	b.StoredSerials = addSorted(b.StoredSerials, held)
	return b, available
}

func fromStorage(b ItemBalance, item Item) (ItemBalance, int) {
	available := b.QuantityStored
	moved := min(item.Quantity, b.QuantityStored)
	b.QuantityStored -= moved
	b.QuantityActive = saturatingAdd(b.QuantityActive, moved)
	b.StoredSerials = removeSorted(b.StoredSerials, item.Serials)
	return b, available
}

func saturatingAdd(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}
