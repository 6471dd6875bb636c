package cronexpr

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"fleetops-controlplane/pkg/errutil"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse compiles a five field cron expression (or an @descriptor) bound to the
// IANA timezone tz. An empty tz means UTC.
func Parse(expression, tz string) (cron.Schedule, *time.Location, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil, errutil.Fail(errutil.ReasonInvalidCronExpression, "empty cron expression", nil)
	}
	if strings.HasPrefix(expression, "TZ=") || strings.HasPrefix(expression, "CRON_TZ=") {
		return nil, nil, errutil.Fail(errutil.ReasonInvalidCronExpression, "timezone must be set on the schedule, not in the expression", nil)
	}

	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, errutil.Fail(errutil.ReasonInvalidCronExpression, fmt.Sprintf("unknown timezone %q", tz), err)
		}
		loc = l
	}

	sched, err := parser.Parse(expression)
	if err != nil {
		return nil, nil, errutil.Fail(errutil.ReasonInvalidCronExpression, fmt.Sprintf("invalid cron expression %q", expression), err)
	}
	return sched, loc, nil
}

// NextOccurrence returns the first activation strictly after after, evaluated
// in tz and returned in UTC. Identical inputs always yield the same result.
func NextOccurrence(expression, tz string, after time.Time) (time.Time, error) {
	sched, loc, err := Parse(expression, tz)
	if err != nil {
		return time.Time{}, err
	}

	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, errutil.Fail(errutil.ReasonInvalidCronExpression, fmt.Sprintf("cron expression %q never fires", expression), nil)
	}
	return next.UTC(), nil
}

// Validate reports whether expression and tz can produce an activation.
func Validate(expression, tz string) error {
	_, err := NextOccurrence(expression, tz, time.Now())
	return err
}
