package leadtrack

import (
	"errors"
	"testing"
	"time"
)

func TestMonthWindow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	tests := []struct {
		name      string
		at        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			at:        time.Date(2024, time.March, 15, 10, 0, 0, 0, loc),
			wantStart: time.Date(2024, time.March, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2024, time.March, 31, 23, 59, 59, 999999000, loc),
		},
		{
			name:      "leap february",
			at:        time.Date(2024, time.February, 29, 23, 59, 0, 0, loc),
			wantStart: time.Date(2024, time.February, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2024, time.February, 29, 23, 59, 59, 999999000, loc),
		},
		{
			name:      "december",
			at:        time.Date(2023, time.December, 1, 0, 0, 0, 0, loc),
			wantStart: time.Date(2023, time.December, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2023, time.December, 31, 23, 59, 59, 999999000, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := MonthWindow(tt.at)
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Fatalf("got [%v, %v], want [%v, %v]", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestPreviousMonthWindow(t *testing.T) {
	start, end := PreviousMonthWindow(time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC))
	if want := time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2023, time.December, 31, 23, 59, 59, 999999000, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestDayRange(t *testing.T) {
	from, _ := ParseDate("2024-05-01", time.UTC)
	to, _ := ParseDate("2024-05-03", time.UTC)
	start, end := DayRange(from, to, time.UTC)

	if want := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2024, time.May, 3, 23, 59, 59, 999000000, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestParseDateInvalid(t *testing.T) {
	if _, err := ParseDate("03/05/2024", time.UTC); !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}
