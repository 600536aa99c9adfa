package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule trigger has no usable cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// ErrScheduleNeverFires is returned for expressions that parse but match no
// date, such as February 30th.
var ErrScheduleNeverFires = errors.New("schedule never fires")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a standard five-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expression string) (cron.Schedule, error) {
	if expression == "" {
		return nil, ErrInvalidSchedule
	}

	return cronParser.Parse(expression)
}

// NextFireAfter returns the first fire time of the cron expression strictly after reference.
func NextFireAfter(expression string, reference time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expression)
	if err != nil {
		return time.Time{}, err
	}

	next := schedule.Next(reference)
	if next.IsZero() {
		return time.Time{}, ErrScheduleNeverFires
	}

	return next, nil
}
