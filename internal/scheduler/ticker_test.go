package scheduler

import (
	"testing"
	"time"
)

func TestIntervalTickerFires(t *testing.T) {
	tk := NewIntervalTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("expected tick")
	}
}

func TestIntervalTickerDefaultsInterval(t *testing.T) {
	tk := NewIntervalTicker(0)
	defer tk.Stop()
	select {
	case <-tk.C():
		t.Fatal("unexpected tick at default cadence")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestManualTicker(t *testing.T) {
	tk := NewManualTicker()
	defer tk.Stop()
	tk.Tick()
	select {
	case <-tk.C():
	default:
		t.Fatal("expected buffered tick")
	}
}
