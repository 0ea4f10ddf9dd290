package action

import "testing"

func TestRollingWindow_P50AndP99(t *testing.T) {
	w := newRollingWindow(10)
	for i := int64(1); i <= 10; i++ {
		w.Record(i*100, false)
	}
	if got := w.P50(); got != 600 {
		t.Errorf("P50 = %d, want 600", got)
	}
	if got := w.P99(); got != 1000 {
		t.Errorf("P99 = %d, want 1000", got)
	}
}

func TestRollingWindow_ErrorRate(t *testing.T) {
	w := newRollingWindow(4)
	w.Record(100, false)
	w.Record(100, true)
	w.Record(100, true)
	w.Record(100, false)
	if got := w.ErrorRate(); got != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", got)
	}
}

func TestRollingWindow_EmptyWindow(t *testing.T) {
	w := newRollingWindow(4)
	if w.P50() != 0 || w.P99() != 0 || w.ErrorRate() != 0 {
		t.Error("expected zero values on an empty window")
	}
}

func TestRollingWindow_WrapsAfterCapacity(t *testing.T) {
	w := newRollingWindow(2)
	w.Record(100, false)
	w.Record(200, false)
	w.Record(300, false) // overwrites the 100 sample
	if got := w.Count(); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
	if got := w.P50(); got != 300 {
		t.Errorf("P50 = %d, want 300 (window now holds 200,300)", got)
	}
}

func TestRollingWindow_ErrorRateDropsAsErrorsAgeOut(t *testing.T) {
	w := newRollingWindow(4)
	for i := 0; i < 4; i++ {
		w.Record(100, true)
	}
	if got := w.ErrorRate(); got != 1 {
		t.Fatalf("ErrorRate after 4 errors = %v, want 1", got)
	}

	for i := 0; i < 4; i++ {
		w.Record(100, false)
	}
	if got := w.ErrorRate(); got != 0 {
		t.Errorf("ErrorRate = %v, want 0 once every error sample has aged out of the window", got)
	}
}
