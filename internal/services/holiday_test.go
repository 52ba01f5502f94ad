package services

import (
	"testing"
	"time"
)

func TestHolidayService_Korea(t *testing.T) {
	s := NewHolidayService()
	kst := time.FixedZone("KST", 9*3600)

	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"regular tuesday", time.Date(2026, 3, 10, 9, 0, 0, 0, kst), true},
		{"saturday", time.Date(2026, 3, 14, 9, 0, 0, 0, kst), false},
		{"seollal", time.Date(2026, 2, 17, 9, 0, 0, 0, kst), false},
		{"day after seollal", time.Date(2026, 2, 18, 9, 0, 0, 0, kst), false},
		{"back to work after seollal", time.Date(2026, 2, 19, 9, 0, 0, 0, kst), true},
		{"chuseok", time.Date(2026, 9, 25, 9, 0, 0, 0, kst), false},
		{"hangul day", time.Date(2026, 10, 9, 9, 0, 0, 0, kst), false},
		{"christmas", time.Date(2026, 12, 25, 9, 0, 0, 0, kst), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsWorkday(tt.date, "kr"); got != tt.want {
				t.Errorf("IsWorkday(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestHolidayService_Fallbacks(t *testing.T) {
	s := NewHolidayService()
	monday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)

	for _, code := range []string{"NONE", "XX"} {
		if !s.IsWorkday(monday, code) || s.IsWorkday(sunday, code) {
			t.Errorf("%s should only skip weekends", code)
		}
	}
	if !s.Supports("kr") || !s.Supports("NONE") || s.Supports("XX") {
		t.Error("Supports() mismatch")
	}
	if s.IsWorkday(time.Date(2025, 7, 4, 9, 0, 0, 0, time.UTC), "US") {
		t.Error("Independence Day 2025 should not be a US workday")
	}
}
