package signal

import (
	"testing"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

func TestStoreLookupKeepsLatest(t *testing.T) {
	s := NewStore()
	older := model.BehavioralSignal{StoreID: "S1", SKU: "X", Kind: model.SignalVolatilityExpected, Confidence: 0.8, ObservedAt: t0}
	newer := model.BehavioralSignal{StoreID: "S1", SKU: "X", Kind: model.SignalEventDrivenDemand, Confidence: 0.75, ObservedAt: t0.Add(time.Hour)}
	if rejected := s.Add(newer, older); rejected != 0 {
		t.Fatalf("unexpected rejections: %d", rejected)
	}
	got, ok := s.Lookup("S1", "X")
	if !ok || got.Kind != model.SignalEventDrivenDemand {
		t.Fatalf("expected newest signal got %+v", got)
	}
	if _, ok := s.Lookup("S2", "X"); ok {
		t.Fatal("unexpected signal for S2")
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := NewStore()
	if rejected := s.Add(model.BehavioralSignal{StoreID: "S1", Kind: "bogus"}); rejected != 1 {
		t.Fatalf("expected 1 rejection got %d", rejected)
	}
	if s.Len() != 0 {
		t.Fatal("invalid signal stored")
	}
}

func TestStoreRecentAndPrune(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Add(model.BehavioralSignal{StoreID: "S1", SKU: "X", Kind: model.SignalVolatilityExpected, Confidence: 0.8, ObservedAt: t0.Add(time.Duration(i) * 24 * time.Hour)})
	}
	if n := len(s.Recent(t0.Add(3 * 24 * time.Hour))); n != 2 {
		t.Fatalf("expected 2 recent got %d", n)
	}
	if removed := s.Prune(t0.Add(2 * 24 * time.Hour)); removed != 2 {
		t.Fatalf("expected 2 pruned got %d", removed)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 left got %d", s.Len())
	}
}
