package queue

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidWindow = errors.New("queue: invalid session window")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// MaxTokens derives session capacity from the window duration and the average
// consultation length. The last partial slot is not counted.
func MaxTokens(startTime, endTime string, avgConsultationMinutes int) (int, error) {
	if avgConsultationMinutes <= 0 {
		return 0, fmt.Errorf("%w: avg consultation minutes must be > 0", ErrInvalidWindow)
	}
	start, err := time.Parse(timeLayout, startTime)
	if err != nil {
		return 0, fmt.Errorf("%w: start %q", ErrInvalidWindow, startTime)
	}
	end, err := time.Parse(timeLayout, endTime)
	if err != nil {
		return 0, fmt.Errorf("%w: end %q", ErrInvalidWindow, endTime)
	}
	dur := end.Sub(start)
	if dur <= 0 {
		return 0, fmt.Errorf("%w: end must be after start", ErrInvalidWindow)
	}
	n := int(dur.Minutes()) / avgConsultationMinutes
	if n < 1 {
		return 0, fmt.Errorf("%w: window shorter than one consultation", ErrInvalidWindow)
	}
	return n, nil
}

// SessionWindow resolves the session's wall-clock window to absolute instants
// in the session's timezone. The caller compares against the server clock;
// client clocks never participate.
func SessionWindow(s ClinicSession) (start, end time.Time, err error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: timezone %q", ErrInvalidWindow, s.Timezone)
	}
	day, err := time.ParseInLocation(dateLayout, s.Date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidWindow, s.Date)
	}
	st, err := time.Parse(timeLayout, s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q", ErrInvalidWindow, s.StartTime)
	}
	et, err := time.Parse(timeLayout, s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q", ErrInvalidWindow, s.EndTime)
	}

	start = time.Date(day.Year(), day.Month(), day.Day(), st.Hour(), st.Minute(), 0, 0, loc)
	end = time.Date(day.Year(), day.Month(), day.Day(), et.Hour(), et.Minute(), 0, 0, loc)
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end must be after start", ErrInvalidWindow)
	}
	return start, end, nil
}

// WindowOpen reports whether now falls inside the session window.
func WindowOpen(s ClinicSession, now time.Time) (bool, error) {
	start, end, err := SessionWindow(s)
	if err != nil {
		return false, err
	}
	return !now.Before(start) && now.Before(end), nil
}
