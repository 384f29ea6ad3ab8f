package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the classic 5-field crontab form:
// minute hour day-of-month month day-of-week, with steps, ranges, lists
// and wildcards. When both day-of-month and day-of-week are restricted a
// candidate matches if it satisfies either field (standard cron OR).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec is a validated crontab expression.
type CronSpec struct {
	Raw   string
	sched cron.Schedule
}

// ParseCronSpec validates a 5-field crontab expression. A leading "cron"
// keyword is tolerated and stripped.
func ParseCronSpec(raw string) (CronSpec, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "cron"))
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return CronSpec{}, fmt.Errorf("crontab needs 5 fields, got %d", len(fields))
	}
	s = strings.Join(fields, " ")
	sched, err := cronParser.Parse(s)
	if err != nil {
		return CronSpec{}, err
	}
	return CronSpec{Raw: s, sched: sched}, nil
}

// NextAfter returns the next instant strictly after ref at which the spec
// matches, evaluated in loc.
//
// DST policy: an occurrence whose local wall-clock time does not exist on a
// spring-forward day is shifted to the first valid instant after the gap
// (e.g. a 02:30 job runs at 03:30 when 02:00-03:00 is skipped). Ambiguous
// fall-back times fire once, at the first of the two wall-clock instants.
func (c CronSpec) NextAfter(ref time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := ref.In(loc)
	next := c.sched.Next(local)

	// ref inside a repeated fall-back hour: the underlying schedule walks
	// forward into the second wall-clock instance of the very same minute.
	// That minute already fired once, so skip past it.
	if sameWallMinute(local, next) {
		next = c.sched.Next(next)
	}

	// Re-evaluate against a DST-frozen copy of the zone. If the nominal
	// wall-clock occurrence lands before next and fails to round-trip in
	// the real zone, it fell into a gap: fire at the normalized (shifted)
	// instant instead of silently skipping the whole occurrence.
	_, off := local.Zone()
	frozen := time.FixedZone(loc.String(), off)
	nominal := c.sched.Next(ref.In(frozen))
	if !nominal.IsZero() && nominal.Before(next) {
		// nominal's wall clock fell into the gap. It carries the
		// pre-transition offset, so the same absolute instant read back in
		// the real zone lands just past the gap with the minute offset
		// preserved: 02:30 in a skipped 02:00-03:00 hour becomes 03:30.
		// (time.Date would normalize to the earlier side of the gap.)
		shifted := nominal.In(loc)
		if shifted.After(ref) && shifted.Before(next) &&
			(shifted.Hour() != nominal.Hour() || shifted.Minute() != nominal.Minute()) {
			return shifted
		}
	}
	return next
}

// sameWallMinute reports whether two instants show the same wall-clock
// minute. Distinct instants can only collide this way inside a DST
// fall-back repeat.
func sameWallMinute(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
