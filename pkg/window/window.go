package window

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Boundary computes quota window reset instants. Next returns the first
// reset strictly after from. Real resources usually reset at a fixed clock
// instant in a specific time zone; prefer Daily, Weekly or Cron over Every
// for those, since a rolling window under-counts against a fixed reset.
type Boundary interface {
	Next(from time.Time) time.Time
}

// everyBoundary resets at fixed intervals from the instant asked.
type everyBoundary struct {
	interval time.Duration
}

// Every creates a rolling window boundary of fixed length.
func Every(d time.Duration) Boundary {
	return &everyBoundary{interval: d}
}

func (b *everyBoundary) Next(from time.Time) time.Time {
	return from.Add(b.interval)
}

// dailyBoundary resets at a specific time each day.
type dailyBoundary struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a boundary that resets at a specific UTC time each day.
func Daily(hour, minute int) Boundary {
	return &dailyBoundary{hour: hour, minute: minute, loc: time.UTC}
}

// DailyIn creates a boundary that resets at a specific time each day in the
// given location.
func DailyIn(hour, minute int, loc *time.Location) Boundary {
	return &dailyBoundary{hour: hour, minute: minute, loc: loc}
}

func (b *dailyBoundary) Next(from time.Time) time.Time {
	from = from.In(b.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), b.hour, b.minute, 0, 0, b.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// weeklyBoundary resets at a specific day and time each week.
type weeklyBoundary struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly creates a boundary that resets at a specific UTC day and time each week.
func Weekly(day time.Weekday, hour, minute int) Boundary {
	return &weeklyBoundary{day: day, hour: hour, minute: minute, loc: time.UTC}
}

// WeeklyIn creates a boundary that resets at a specific day and time each
// week in the given location.
func WeeklyIn(day time.Weekday, hour, minute int, loc *time.Location) Boundary {
	return &weeklyBoundary{day: day, hour: hour, minute: minute, loc: loc}
}

func (b *weeklyBoundary) Next(from time.Time) time.Time {
	from = from.In(b.loc)

	daysUntil := int(b.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, b.hour, b.minute, 0, 0, b.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// cronBoundary wraps a cron expression.
type cronBoundary struct {
	schedule cron.Schedule
}

// Cron creates a boundary from a cron expression. A "CRON_TZ=<zone> " prefix
// evaluates the expression in that zone, matching resources whose quotas
// reset on a clock other than the host's.
func Cron(expr string) Boundary {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		panic("invalid cron expression: " + err.Error())
	}
	return &cronBoundary{schedule: schedule}
}

func (b *cronBoundary) Next(from time.Time) time.Time {
	return b.schedule.Next(from)
}
