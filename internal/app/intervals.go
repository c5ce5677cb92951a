package app

import (
	"time"

	"quizrevise/internal/domain"
)

// DefaultOffsets are the review offsets in days for set numbers 1..8.
var DefaultOffsets = []int{0, 1, 5, 15, 30, 60, 120, 180}

// IntervalTable maps a quiz set number to its review offset in days.
type IntervalTable struct {
	offsets []int
}

// NewIntervalTable validates offsets: one per set, non-negative and non-decreasing.
func NewIntervalTable(offsets []int) (IntervalTable, error) {
	if len(offsets) != domain.SetsPerQuiz {
		return IntervalTable{}, domain.Validationf("interval table needs %d offsets, got %d", domain.SetsPerQuiz, len(offsets))
	}
	for i, off := range offsets {
		if off < 0 {
			return IntervalTable{}, domain.Validationf("offset %d is negative", i+1)
		}
		if i > 0 && off < offsets[i-1] {
			return IntervalTable{}, domain.Validationf("offset %d is smaller than offset %d", i+1, i)
		}
	}
	return IntervalTable{offsets: append([]int(nil), offsets...)}, nil
}

// DefaultIntervalTable returns the standard 0/1/5/15/30/60/120/180 table.
func DefaultIntervalTable() IntervalTable {
	t, _ := NewIntervalTable(DefaultOffsets)
	return t
}

// Offsets returns a copy of the configured offsets.
func (t IntervalTable) Offsets() []int {
	return append([]int(nil), t.offsets...)
}

// Offset returns the review offset in days for setNumber (1-based).
func (t IntervalTable) Offset(setNumber int) (int, error) {
	if setNumber < 1 || setNumber > len(t.offsets) {
		return 0, domain.Validationf("set number %d outside [1,%d]", setNumber, len(t.offsets))
	}
	return t.offsets[setNumber-1], nil
}

// ScheduledDate is createdAt (in UTC, clock time preserved) plus the set's
// offset in calendar days.
func (t IntervalTable) ScheduledDate(setNumber int, createdAt time.Time) (time.Time, error) {
	off, err := t.Offset(setNumber)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.UTC().AddDate(0, 0, off), nil
}

// RetentionStage returns the index of the smallest offset >= daysPassed,
// capped at the last stage.
func (t IntervalTable) RetentionStage(daysPassed int) int {
	last := len(t.offsets) - 1
	for i, off := range t.offsets {
		if off >= daysPassed {
			return i
		}
	}
	return last
}

// daysBetween counts whole days elapsed from start to end.
func daysBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / (24 * time.Hour))
}
