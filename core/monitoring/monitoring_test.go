package monitoring

import (
	"errors"
	"testing"
)

func TestCaptureAndRecover(t *testing.T) {
	rec := &Recorder{}
	Init(rec)
	t.Cleanup(func() { Init(NopMonitor{}) })

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"component": "router"})
	if rec.Count() != 1 {
		t.Fatalf("expected 1 captured error, got %d", rec.Count())
	}
	if rec.Tags[0]["component"] != "router" {
		t.Fatalf("tags not recorded: %v", rec.Tags[0])
	}

	func() {
		defer func() {
			if r := recover(); r != "crash" {
				t.Fatalf("expected re-panic with crash, got %v", r)
			}
		}()
		defer Recover()
		panic("crash")
	}()
	if len(rec.Panics) != 1 {
		t.Fatalf("expected panic to be captured")
	}
}
