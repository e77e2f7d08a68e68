package scheduler

import (
	"testing"
	"time"
)

func TestInWindowOvernightWrap(t *testing.T) {
	start := TimeOfDay{Hour: 19}
	end := TimeOfDay{Hour: 7}

	cases := []struct {
		now  time.Time
		want bool
	}{
		{time.Date(2026, 7, 30, 2, 30, 0, 0, time.UTC), true},
		{time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 7, 30, 19, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 7, 30, 7, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 7, 30, 18, 59, 59, 0, time.UTC), false},
	}
	for _, c := range cases {
		if got := InWindow(c.now, start, end); got != c.want {
			t.Errorf("InWindow(%s) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestInWindowSameDayRange(t *testing.T) {
	start := TimeOfDay{Hour: 9}
	end := TimeOfDay{Hour: 17}

	if !InWindow(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC), start, end) {
		t.Error("expected noon to be in-window")
	}
	if InWindow(time.Date(2026, 7, 30, 20, 0, 0, 0, time.UTC), start, end) {
		t.Error("expected 20:00 to be outside window")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("19:30:05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tod.Hour != 19 || tod.Min != 30 || tod.Sec != 5 {
		t.Fatalf("unexpected parse result: %+v", tod)
	}
	if tod.String() != "19:30:05" {
		t.Fatalf("unexpected String(): %s", tod.String())
	}
}

func TestParseTimeOfDayRejectsGarbage(t *testing.T) {
	if _, err := ParseTimeOfDay("not-a-time"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNextDailyFireAdvancesWhenPast(t *testing.T) {
	after := time.Date(2026, 7, 30, 20, 0, 0, 0, time.UTC)
	start := TimeOfDay{Hour: 19}

	next := NextDailyFire(after, start)
	want := time.Date(2026, 7, 31, 19, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %s, want %s", next, want)
	}
}

func TestNextDailyFireSameDayWhenStillAhead(t *testing.T) {
	after := time.Date(2026, 7, 30, 6, 0, 0, 0, time.UTC)
	start := TimeOfDay{Hour: 19}

	next := NextDailyFire(after, start)
	want := time.Date(2026, 7, 30, 19, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %s, want %s", next, want)
	}
}
