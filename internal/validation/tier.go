package validation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/stepcheck/pkg/schema"
	"github.com/robfig/cron/v3"
)

// MsgInvalidCron is reported for digest cron expressions that do not parse.
const MsgInvalidCron = "Invalid cron expression"

// cronParser accepts standard five-field expressions and descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronReference anchors cron interval measurement so results are stable.
var cronReference = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// cronSamples is how many consecutive activations are inspected.
const cronSamples = 16

var unitDurations = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"months":  30 * 24 * time.Hour,
}

// TierIssues checks a step's time controls against limits. Steps without a
// plan ceiling produce no issues.
func TierIssues(kind schema.StepKind, controls map[string]any, limits TierLimits) *schema.StepIssues {
	issues := schema.NewStepIssues()
	limitKind := kind.TierLimit()
	if limitKind == schema.LimitNone {
		return issues
	}

	ceiling := limits.MaxDelay
	if limitKind == schema.LimitDigest {
		ceiling = limits.MaxDigest
	}

	if window, ok := controlWindow(controls); ok && ceiling > 0 && window > float64(ceiling) {
		issue := tierIssue(limitKind, ceiling)
		issue.VariableName = "amount"
		issues.AddControl("amount", issue)
	}

	if limitKind != schema.LimitDigest {
		return issues
	}
	expr, _ := controls["cron"].(string)
	if strings.TrimSpace(expr) == "" {
		return issues
	}
	if !limits.CronAllowed {
		issues.AddControl("cron", schema.Issue{
			Message:   "Cron schedules are not available on the current plan. Please contact us to support more.",
			IssueType: schema.IssueTierLimitExceeded,
		})
		return issues
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		issues.AddControl("cron", schema.Issue{Message: MsgInvalidCron, IssueType: schema.IssueMissingValue})
		return issues
	}
	if ceiling > 0 && cronInterval(sched) > ceiling {
		issues.AddControl("cron", tierIssue(limitKind, ceiling))
	}
	return issues
}

func tierIssue(limitKind schema.LimitKind, ceiling time.Duration) schema.Issue {
	return schema.Issue{
		Message: fmt.Sprintf("The maximum %s window allowed is %s. Please contact us to support more.",
			limitKind, formatWindow(ceiling)),
		IssueType: schema.IssueTierLimitExceeded,
	}
}

// controlWindow returns amount×unit in nanoseconds. It stays a float so
// windows beyond the time.Duration range still compare as larger. Missing or
// malformed values are left to structural validation.
func controlWindow(controls map[string]any) (float64, bool) {
	amount, ok := toFloat(controls["amount"])
	if !ok || amount <= 0 {
		return 0, false
	}
	unit, _ := controls["unit"].(string)
	d, ok := unitDurations[unit]
	if !ok {
		return 0, false
	}
	return amount * float64(d), true
}

// cronInterval is the widest gap between consecutive activations after the
// reference time. A schedule that never fires reports zero.
func cronInterval(sched cron.Schedule) time.Duration {
	var widest time.Duration
	prev := sched.Next(cronReference)
	if prev.IsZero() {
		return 0
	}
	for range cronSamples {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); gap > widest {
			widest = gap
		}
		prev = next
	}
	return widest
}

// formatWindow renders d in the largest unit that divides it evenly.
func formatWindow(d time.Duration) string {
	for _, u := range []struct {
		name string
		d    time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
	} {
		if d%u.d == 0 {
			return plural(int64(d/u.d), u.name)
		}
	}
	return plural(int64(d/time.Second), "second")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.FormatInt(n, 10) + " " + unit + "s"
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
