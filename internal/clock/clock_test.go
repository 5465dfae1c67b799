package clock

import (
	"testing"
	"time"
)

func TestNow_TracksSystemTime(t *testing.T) {
	before := time.Now()
	got := Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestSinceAndUntil(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	if d := Since(past); d < time.Hour-time.Second || d > time.Hour+time.Second {
		t.Errorf("Since() = %v, want about an hour", d)
	}

	future := time.Now().Add(time.Hour)
	if d := Until(future); d < time.Hour-time.Second || d > time.Hour+time.Second {
		t.Errorf("Until() = %v, want about an hour", d)
	}
}

func TestMockClock_Now(t *testing.T) {
	at := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)
	mock := NewMockClock(at)

	if got := mock.Now(); !got.Equal(at) {
		t.Errorf("Now() = %v, want %v", got, at)
	}
}

func TestMockClock_Advance(t *testing.T) {
	at := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)
	mock := NewMockClock(at)

	// A cache entry written now should read as one TTL old after the
	// clock advances by the TTL.
	mock.Advance(24 * time.Hour)
	want := at.Add(24 * time.Hour)
	if got := mock.Now(); !got.Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", got, want)
	}
}

func TestMockClock_Set(t *testing.T) {
	mock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	at := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	mock.Set(at)
	if got := mock.Now(); !got.Equal(at) {
		t.Errorf("after Set, Now() = %v, want %v", got, at)
	}
}

func TestMockClock_SinceAndUntil(t *testing.T) {
	at := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)
	mock := NewMockClock(at)

	if d := mock.Since(at.Add(-time.Minute)); d != time.Minute {
		t.Errorf("Since() = %v, want 1m", d)
	}
	if d := mock.Until(at.Add(time.Minute)); d != time.Minute {
		t.Errorf("Until() = %v, want 1m", d)
	}
}

func TestRealClock_MatchesPackageFunctions(t *testing.T) {
	var _ Clock = &RealClock{}
	var _ Clock = &MockClock{}

	c := &RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", got, before, after)
	}

	past := time.Now().Add(-time.Hour)
	if d := c.Since(past); d < time.Hour-time.Second || d > time.Hour+time.Second {
		t.Errorf("RealClock.Since() = %v, want about an hour", d)
	}
	future := time.Now().Add(time.Hour)
	if d := c.Until(future); d < time.Hour-time.Second || d > time.Hour+time.Second {
		t.Errorf("RealClock.Until() = %v, want about an hour", d)
	}
}
