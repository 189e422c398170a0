package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_SetDoesNotFire(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)

	clock.Set(epoch.Add(time.Hour))
	if got := clock.Now(); !got.Equal(epoch.Add(time.Hour)) {
		t.Errorf("Now() = %v", got)
	}
	select {
	case <-ticker.C():
		t.Error("Set should not fire tickers")
	default:
	}
}

func TestMockClock_AdvanceFiresDueTickers(t *testing.T) {
	clock := NewMockClock(epoch)
	fast := clock.NewTicker(100 * time.Millisecond)
	slow := clock.NewTicker(time.Second)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-fast.C():
		t.Fatal("fast ticker fired early")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case got := <-fast.C():
		if !got.Equal(epoch.Add(100 * time.Millisecond)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("fast ticker did not fire")
	}
	select {
	case <-slow.C():
		t.Fatal("slow ticker fired early")
	default:
	}
}

func TestMockClock_DropsTicksWhenBehind(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)

	clock.Advance(time.Second)
	clock.Advance(time.Second)

	<-ticker.C()
	select {
	case <-ticker.C():
		t.Error("second tick should have been dropped")
	default:
	}
}

func TestMockClock_StoppedTickerIsSilent(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)
	if clock.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", clock.Tickers())
	}

	ticker.Stop()
	if clock.Tickers() != 0 {
		t.Errorf("Tickers() = %d after stop, want 0", clock.Tickers())
	}
	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}
