// Package events defines the allocation pipeline events emitted on the event bus.
//
// Available event types:
//   - RequestQueued: an allocation request was classified and queued
//   - StrategyAttempt: a fulfilment strategy failed for a request
//   - TransferScheduled: a store-to-store transfer was committed
//   - CycleCompleted: a drain cycle finished
//   - ConsensusComputed: a regional consensus report was produced
//   - RegionsRebuilt: the store clustering was replaced
//   - BatchesPlanned: pending transfers were grouped into departures
package events

// Event is implemented by every pipeline event.
type Event interface {
	EventName() string
}
