package app

import (
	"errors"
	"testing"
	"time"

	"quizrevise/internal/domain"
)

func TestScheduledDateMatchesOffsets(t *testing.T) {
	table := DefaultIntervalTable()
	createdAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	want := []int{0, 1, 5, 15, 30, 60, 120, 180}

	for n := 1; n <= 8; n++ {
		got, err := table.ScheduledDate(n, createdAt)
		if err != nil {
			t.Fatalf("set %d: %v", n, err)
		}
		if diff := got.Sub(createdAt); diff != time.Duration(want[n-1])*24*time.Hour {
			t.Fatalf("set %d: offset %s, want %d days", n, diff, want[n-1])
		}
		if got.Hour() != 10 {
			t.Fatalf("set %d: expected creation clock time kept, got %s", n, got)
		}
	}
}

func TestScheduledDateNormalizesToUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	createdAt := time.Date(2024, 1, 1, 1, 0, 0, 0, ist)
	got, err := DefaultIntervalTable().ScheduledDate(2, createdAt)
	if err != nil {
		t.Fatalf("scheduled date: %v", err)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", got.Location())
	}
	if !got.Equal(createdAt.Add(24 * time.Hour)) {
		t.Fatalf("expected one day later, got %s", got)
	}
}

func TestScheduledDateRejectsOutOfRangeSet(t *testing.T) {
	table := DefaultIntervalTable()
	for _, n := range []int{0, 9, -1} {
		if _, err := table.ScheduledDate(n, time.Now()); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("set %d: expected validation error, got %v", n, err)
		}
	}
}

func TestRetentionStage(t *testing.T) {
	table := DefaultIntervalTable()
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 2, 5: 2, 6: 3, 180: 7, 200: 7}
	for days, want := range cases {
		if got := table.RetentionStage(days); got != want {
			t.Fatalf("retentionStage(%d) = %d, want %d", days, got, want)
		}
	}
}

func TestNewIntervalTableValidation(t *testing.T) {
	bad := [][]int{
		{0, 1, 5},
		{0, 1, 5, 15, 30, 60, 120, 180, 365},
		{0, -1, 5, 15, 30, 60, 120, 180},
		{0, 5, 1, 15, 30, 60, 120, 180},
	}
	for _, offsets := range bad {
		if _, err := NewIntervalTable(offsets); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("offsets %v: expected validation error, got %v", offsets, err)
		}
	}

	custom, err := NewIntervalTable([]int{0, 2, 4, 8, 16, 32, 64, 128})
	if err != nil {
		t.Fatalf("custom table: %v", err)
	}
	if off, _ := custom.Offset(8); off != 128 {
		t.Fatalf("expected last offset 128, got %d", off)
	}
	offsets := custom.Offsets()
	offsets[0] = 99
	if off, _ := custom.Offset(1); off != 0 {
		t.Fatalf("Offsets must return a copy")
	}
}
