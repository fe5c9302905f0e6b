package queue

import (
	"errors"
	"testing"
	"time"
)

func TestMaxTokens(t *testing.T) {
	cases := []struct {
		start, end string
		avg        int
		want       int
	}{
		{"09:00", "12:00", 15, 12},
		{"09:00", "12:00", 20, 9},
		{"09:00", "09:50", 15, 3},
		{"09:00", "09:15", 15, 1},
	}
	for _, tc := range cases {
		got, err := MaxTokens(tc.start, tc.end, tc.avg)
		if err != nil {
			t.Fatalf("%s-%s/%d: unexpected err: %v", tc.start, tc.end, tc.avg, err)
		}
		if got != tc.want {
			t.Fatalf("%s-%s/%d: got %d want %d", tc.start, tc.end, tc.avg, got, tc.want)
		}
	}
}

func TestMaxTokens_Invalid(t *testing.T) {
	if _, err := MaxTokens("12:00", "09:00", 15); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("inverted window: got %v", err)
	}
	if _, err := MaxTokens("09:00", "09:10", 15); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("window shorter than one slot: got %v", err)
	}
	if _, err := MaxTokens("09:00", "12:00", 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("zero avg: got %v", err)
	}
	if _, err := MaxTokens("9am", "12:00", 15); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("bad start format: got %v", err)
	}
}

func TestWindowOpen_ServerClockAuthority(t *testing.T) {
	s := ClinicSession{
		Date:      "2026-03-10",
		StartTime: "09:00",
		EndTime:   "12:00",
		Timezone:  "Asia/Kolkata",
	}
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	cases := []struct {
		now  time.Time
		want bool
	}{
		{time.Date(2026, 3, 10, 8, 59, 0, 0, loc), false},
		{time.Date(2026, 3, 10, 9, 0, 0, 0, loc), true},
		{time.Date(2026, 3, 10, 11, 59, 0, 0, loc), true},
		{time.Date(2026, 3, 10, 12, 0, 0, 0, loc), false},
	}
	for _, tc := range cases {
		got, err := WindowOpen(s, tc.now)
		if err != nil {
			t.Fatalf("%v: unexpected err: %v", tc.now, err)
		}
		if got != tc.want {
			t.Fatalf("%v: got %v want %v", tc.now, got, tc.want)
		}
	}

	// The same instant expressed in UTC must yield the same answer.
	utcNow := time.Date(2026, 3, 10, 3, 45, 0, 0, time.UTC) // 09:15 IST
	open, err := WindowOpen(s, utcNow)
	if err != nil || !open {
		t.Fatalf("utc instant inside window: open=%v err=%v", open, err)
	}
}

func TestWindowOpen_BadTimezone(t *testing.T) {
	s := ClinicSession{Date: "2026-03-10", StartTime: "09:00", EndTime: "12:00", Timezone: "Not/AZone"}
	if _, err := WindowOpen(s, time.Now()); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestDisplayStatus(t *testing.T) {
	cases := map[EntryStatus]string{
		EntryStatusWaiting:            "waiting",
		EntryStatusCalled:             "called",
		EntryStatusInConsultation:     "called",
		EntryStatusSkipped:            "skipped",
		EntryStatusNoShow:             "no-show",
		EntryStatusCompleted:          "completed",
		EntryStatusCancelled:          "cancelled",
		EntryStatusCancelledBySession: "cancelled",
	}
	for st, want := range cases {
		if got := st.DisplayStatus(); got != want {
			t.Fatalf("%s: got %q want %q", st, got, want)
		}
	}
}
