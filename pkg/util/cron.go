package util

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard five-field format: minute, hour, day of month, month, day of week.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronExpr checks that cronExpr parses in the standard format.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// NextCronTime returns the first occurrence of cronExpr after from, in UTC.
func NextCronTime(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(from.UTC()), nil
}

// CurrentPeriodStart returns the most recent occurrence of cronExpr at or
// before now. Usage counters use it to tell which billing period a reset
// belongs to.
func CurrentPeriodStart(cronExpr string, now time.Time, lookback time.Duration) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	now = now.UTC()
	var last time.Time
	for t := schedule.Next(now.Add(-lookback)); !t.After(now); t = schedule.Next(t) {
		last = t
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("no occurrence of %q within %s before %s", cronExpr, lookback, now)
	}
	return last, nil
}
