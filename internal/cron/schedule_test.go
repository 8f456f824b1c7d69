package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/parrot/pkg/models"
)

func TestParseSchedule_Classification(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name     string
		expr     string
		tz       string
		wantKind models.ScheduleKind
		wantAt   time.Time
		wantErr  error
	}{
		{name: "date only", expr: "2030-05-01", wantKind: models.ScheduleOneShot, wantAt: time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)},
		{name: "date time T", expr: "2030-05-01T09:30", wantKind: models.ScheduleOneShot, wantAt: time.Date(2030, 5, 1, 9, 30, 0, 0, time.UTC)},
		{name: "date time space seconds", expr: "2030-05-01 09:30:15", wantKind: models.ScheduleOneShot, wantAt: time.Date(2030, 5, 1, 9, 30, 15, 0, time.UTC)},
		{name: "zulu", expr: "2030-05-01T09:30:00Z", tz: "America/New_York", wantKind: models.ScheduleOneShot, wantAt: time.Date(2030, 5, 1, 9, 30, 0, 0, time.UTC)},
		{name: "offset", expr: "2030-05-01T09:30+02:00", wantKind: models.ScheduleOneShot, wantAt: time.Date(2030, 5, 1, 7, 30, 0, 0, time.UTC)},
		{name: "local zone", expr: "2030-05-01T09:30", tz: "America/New_York", wantKind: models.ScheduleOneShot, wantAt: time.Date(2030, 5, 1, 9, 30, 0, 0, ny)},
		{name: "five field cron", expr: "0 8 * * *", wantKind: models.ScheduleRecurring},
		{name: "six field cron", expr: "30 0 8 * * 1-5", wantKind: models.ScheduleRecurring},
		{name: "descriptor", expr: "@daily", wantKind: models.ScheduleRecurring},
		{name: "every", expr: "@every 1h", wantKind: models.ScheduleRecurring},
		{name: "garbage", expr: "tomorrow-ish", wantErr: ErrInvalidSchedule},
		{name: "bad date", expr: "2030-13-45", wantErr: ErrInvalidSchedule},
		{name: "empty", expr: "   ", wantErr: ErrInvalidSchedule},
		{name: "bad timezone", expr: "0 8 * * *", tz: "Mars/Olympus", wantErr: ErrInvalidTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := ParseSchedule(tt.expr, tt.tz)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseSchedule(%q) error = %v, want %v", tt.expr, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error = %v", tt.expr, err)
			}
			if sched.Kind != tt.wantKind {
				t.Fatalf("Kind = %s, want %s", sched.Kind, tt.wantKind)
			}
			if !tt.wantAt.IsZero() && !sched.At.Equal(tt.wantAt) {
				t.Fatalf("At = %v, want %v", sched.At, tt.wantAt)
			}
		})
	}
}

func TestSchedule_ValidateFuture(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	past, _ := ParseSchedule("2020-01-01T00:00", "")
	if err := past.ValidateFuture(now); !errors.Is(err, ErrPastDate) {
		t.Fatalf("expected ErrPastDate, got %v", err)
	}
	exact, _ := ParseSchedule("2026-03-01T12:00", "")
	if err := exact.ValidateFuture(now); !errors.Is(err, ErrPastDate) {
		t.Fatalf("a date equal to now is not in the future, got %v", err)
	}
	future, _ := ParseSchedule("2026-03-01T12:01", "")
	if err := future.ValidateFuture(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recurring, _ := ParseSchedule("0 8 * * *", "")
	if err := recurring.ValidateFuture(now); err != nil {
		t.Fatalf("recurring schedules are never past: %v", err)
	}
}

func TestSchedule_NextUsesTimezone(t *testing.T) {
	if _, err := time.LoadLocation("Asia/Tokyo"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	sched, err := ParseSchedule("0 8 * * *", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // 09:00 in Tokyo
	next := sched.Next(now)
	want := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC) // 08:00 next day in Tokyo
	if !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next.UTC(), want)
	}

	oneShot, _ := ParseSchedule("2026-03-02", "")
	if got := oneShot.Next(now); !got.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("one-shot Next = %v", got)
	}
	if got := oneShot.Next(now.Add(72 * time.Hour)); !got.IsZero() {
		t.Fatalf("passed one-shot should have no next run, got %v", got)
	}
}
