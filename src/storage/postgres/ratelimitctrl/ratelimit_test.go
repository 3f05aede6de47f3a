package ratelimitctrl_test

import (
	"testing"
	"time"

	"nutriplan/src/storage/postgres/ratelimitctrl"
)

func TestWindowStartTruncates(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 32, 47, 0, time.UTC)

	got := ratelimitctrl.WindowStart(now, 60)
	want := time.Date(2025, 3, 10, 14, 32, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("WindowStart(60) = %v, want %v", got, want)
	}

	got = ratelimitctrl.WindowStart(now, 3600)
	want = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("WindowStart(3600) = %v, want %v", got, want)
	}
}

func TestWindowStartStableWithinWindow(t *testing.T) {
	a := time.Date(2025, 3, 10, 14, 32, 1, 0, time.UTC)
	b := time.Date(2025, 3, 10, 14, 32, 59, 0, time.UTC)

	if !ratelimitctrl.WindowStart(a, 60).Equal(ratelimitctrl.WindowStart(b, 60)) {
		t.Error("requests within one window should share a window start")
	}
}

func TestBuildKey(t *testing.T) {
	windowStart := time.Date(2025, 3, 10, 14, 32, 0, 0, time.UTC)

	got := ratelimitctrl.BuildKey("plan.regenerate", "user-1", windowStart, 60)
	want := "plan.regenerate:user-1:2025-03-10T14:32:00Z:60"
	if got != want {
		t.Errorf("BuildKey = %q, want %q", got, want)
	}
}
