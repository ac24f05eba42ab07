package domain

import (
	"sort"
	"time"
)

// Discrepancy marks a replayed event that asked for more than the holding had.
type Discrepancy struct {
	EventID   string    `json:"eventId"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	Deficit
}

type ReplayResult struct {
	Holding       Holding       `json:"holding"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Applied       int           `json:"applied"`
}

// SortEvents returns a copy of events ordered by timestamp, then request id,
// then event id, so replay is reproducible regardless of read order.
func SortEvents(events []CustodyEvent) []CustodyEvent {
	out := append([]CustodyEvent(nil), events...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].RequestID != out[j].RequestID {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Replay recomputes the holding for key from its ledger history. It is pure:
// deficits are clamped to zero and reported, never returned as errors.
// Events that belong to another key are ignored.
func Replay(key HoldingKey, events []CustodyEvent) ReplayResult {
	res := ReplayResult{Holding: NewHolding(key)}
	for _, ev := range SortEvents(events) {
		if ev.Key() != key {
			continue
		}
		for _, d := range res.Holding.ApplyEvent(ev) {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				EventID:   ev.ID,
				RequestID: ev.RequestID,
				Timestamp: ev.Timestamp,
				Deficit:   d,
			})
		}
		res.Applied++
	}
	return res
}
