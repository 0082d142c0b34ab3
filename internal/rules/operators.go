package rules

import (
	"math"
	"sort"
	"strings"
	"time"
)

// VocabularyVersion identifies the operator set. Bump it whenever an
// operator is added or changes meaning.
const VocabularyVersion = "2"

// operandShape says what an operator expects beyond its arity.
type operandShape int

const (
	shapeAny          operandShape = iota // logic operators; no value checks
	shapeValue                            // every operand must carry a value
	shapeSubject                          // only the first operand is required (null checks)
	shapeRange                            // second operand is a two-number list
	shapeRelativeDate                     // second operand is {amount, unit}
)

// evalFunc receives operands that have already been evaluated.
type evalFunc func(e *Evaluator, args []any) any

type operator struct {
	minArgs, maxArgs int
	shape            operandShape
	lazy             bool // and/or evaluate operands themselves
	eval             evalFunc
}

// aliases map legacy operator names onto the vocabulary.
var aliases = map[string]string{"=": "=="}

var vocabulary = map[string]operator{
	"and": {minArgs: 1, maxArgs: -1, shape: shapeAny, lazy: true},
	"or":  {minArgs: 1, maxArgs: -1, shape: shapeAny, lazy: true},
	"!":   {minArgs: 1, maxArgs: 1, shape: shapeAny, eval: func(_ *Evaluator, a []any) any { return !truthy(a[0]) }},
	"!!":  {minArgs: 1, maxArgs: 1, shape: shapeAny, eval: func(_ *Evaluator, a []any) any { return truthy(a[0]) }},

	"==":  {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalLooseEqual(false)},
	"!=":  {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalLooseEqual(true)},
	"===": {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: func(_ *Evaluator, a []any) any { return strictEqual(a[0], a[1]) }},
	"!==": {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: func(_ *Evaluator, a []any) any { return !strictEqual(a[0], a[1]) }},
	"<":   {minArgs: 2, maxArgs: 3, shape: shapeValue, eval: evalOrdered(func(x, y float64) bool { return x < y })},
	"<=":  {minArgs: 2, maxArgs: 3, shape: shapeValue, eval: evalOrdered(func(x, y float64) bool { return x <= y })},
	">":   {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalOrdered(func(x, y float64) bool { return x > y })},
	">=":  {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalOrdered(func(x, y float64) bool { return x >= y })},

	"in":    {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalIn},
	"notIn": {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalNotIn},

	"startsWith":       {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalString(strings.HasPrefix)},
	"endsWith":         {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalString(strings.HasSuffix)},
	"contains":         {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalString(strings.Contains)},
	"doesNotContain":   {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalString(negate(strings.Contains))},
	"doesNotBeginWith": {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalString(negate(strings.HasPrefix))},
	"doesNotEndWith":   {minArgs: 2, maxArgs: 2, shape: shapeValue, eval: evalString(negate(strings.HasSuffix))},

	"null":    {minArgs: 1, maxArgs: 1, shape: shapeSubject, eval: func(_ *Evaluator, a []any) any { return a[0] == nil }},
	"notNull": {minArgs: 1, maxArgs: 1, shape: shapeSubject, eval: func(_ *Evaluator, a []any) any { return a[0] != nil }},

	"between":    {minArgs: 2, maxArgs: 2, shape: shapeRange, eval: evalRange(false)},
	"notBetween": {minArgs: 2, maxArgs: 2, shape: shapeRange, eval: evalRange(true)},

	"moreThanXAgo":  {minArgs: 2, maxArgs: 2, shape: shapeRelativeDate, eval: evalRelative(moreThanAgo)},
	"lessThanXAgo":  {minArgs: 2, maxArgs: 2, shape: shapeRelativeDate, eval: evalRelative(lessThanAgo)},
	"exactlyXAgo":   {minArgs: 2, maxArgs: 2, shape: shapeRelativeDate, eval: evalRelative(exactlyAgo)},
	"withinLast":    {minArgs: 2, maxArgs: 2, shape: shapeRelativeDate, eval: evalRelative(withinLast)},
	"notWithinLast": {minArgs: 2, maxArgs: 2, shape: shapeRelativeDate, eval: evalRelative(moreThanAgo)},
}

// Operators returns the supported operator names, sorted.
func Operators() []string {
	names := make([]string, 0, len(vocabulary))
	for n := range vocabulary {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupOperator(name string) (string, operator, bool) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	op, ok := vocabulary[name]
	return name, op, ok
}

func evalLooseEqual(negated bool) evalFunc {
	return func(_ *Evaluator, a []any) any {
		var eq bool
		if x, y, ok := comparePair(a[0], a[1]); ok {
			eq = x == y
		} else {
			eq = strictEqual(a[0], a[1])
		}
		return eq != negated
	}
}

// evalOrdered supports the three-operand form a <op> b <op> c.
func evalOrdered(cmp func(x, y float64) bool) evalFunc {
	return func(_ *Evaluator, a []any) any {
		for i := 0; i+1 < len(a); i++ {
			x, y, ok := comparePair(a[i], a[i+1])
			if !ok || !cmp(x, y) {
				return false
			}
		}
		return true
	}
}

func evalIn(_ *Evaluator, a []any) any {
	switch hay := a[1].(type) {
	case string:
		needle, ok := a[0].(string)
		return ok && strings.Contains(hay, needle)
	case []any:
		return includes(hay, a[0])
	}
	return false
}

func evalNotIn(_ *Evaluator, a []any) any {
	hay, ok := a[1].([]any)
	return ok && !includes(hay, a[0])
}

func includes(list []any, v any) bool {
	for _, item := range list {
		if strictEqual(item, v) {
			return true
		}
	}
	return false
}

func evalString(f func(s, sub string) bool) evalFunc {
	return func(_ *Evaluator, a []any) any {
		input, ok1 := a[0].(string)
		value, ok2 := a[1].(string)
		return ok1 && ok2 && f(input, value)
	}
}

func negate(f func(s, sub string) bool) func(s, sub string) bool {
	return func(s, sub string) bool { return !f(s, sub) }
}

func evalRange(outside bool) evalFunc {
	return func(_ *Evaluator, a []any) any {
		input, ok := numeric(a[0])
		if !ok {
			return false
		}
		lo, hi, ok := rangeBounds(a[1])
		if !ok {
			return false
		}
		if outside {
			return input < lo || input > hi
		}
		return input >= lo && input <= hi
	}
}

func rangeBounds(v any) (float64, float64, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return 0, 0, false
	}
	lo, ok1 := numeric(list[0])
	hi, ok2 := numeric(list[1])
	return lo, hi, ok1 && ok2
}

// Unit is a relative-date unit.
type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
	UnitWeeks   Unit = "weeks"
	UnitMonths  Unit = "months"
	UnitYears   Unit = "years"
)

var units = map[Unit]bool{
	UnitMinutes: true, UnitHours: true, UnitDays: true,
	UnitWeeks: true, UnitMonths: true, UnitYears: true,
}

// DefaultTolerances is how far exactlyXAgo may drift from the target date.
var DefaultTolerances = map[Unit]time.Duration{
	UnitMinutes: time.Minute,
	UnitHours:   time.Hour,
	UnitDays:    24 * time.Hour,
	UnitWeeks:   24 * time.Hour,
	UnitMonths:  24 * time.Hour,
	UnitYears:   7 * 24 * time.Hour,
}

// RelativeDate is the value of a relative-date operator.
type RelativeDate struct {
	Amount float64
	Unit   Unit
}

func parseRelativeDate(v any) (RelativeDate, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return RelativeDate{}, false
	}
	amount, ok := numeric(m["amount"])
	if !ok || amount <= 0 {
		return RelativeDate{}, false
	}
	unit, _ := m["unit"].(string)
	if !units[Unit(unit)] {
		return RelativeDate{}, false
	}
	return RelativeDate{Amount: amount, Unit: Unit(unit)}, true
}

// maxRelativeDays caps how far back a relative date reaches, about a
// million years. Larger amounts resolve to the cap.
const maxRelativeDays = 365_000_000

// Before returns the instant amount units before from. Calendar units use
// calendar arithmetic.
func (r RelativeDate) Before(from time.Time) time.Time {
	switch r.Unit {
	case UnitMinutes:
		return beforeClock(from, r.Amount, time.Minute)
	case UnitHours:
		return beforeClock(from, r.Amount, time.Hour)
	case UnitWeeks:
		return from.AddDate(0, 0, -7*count(r.Amount, 7))
	case UnitMonths:
		return from.AddDate(0, -count(r.Amount, 31), 0)
	case UnitYears:
		return from.AddDate(-count(r.Amount, 366), 0, 0)
	default:
		return from.AddDate(0, 0, -count(r.Amount, 1))
	}
}

// beforeClock subtracts a sub-day unit, falling back to whole days once the
// span no longer fits in a time.Duration.
func beforeClock(from time.Time, amount float64, unit time.Duration) time.Time {
	if ns := amount * float64(unit); ns < float64(math.MaxInt64) {
		return from.Add(-time.Duration(ns))
	}
	return from.AddDate(0, 0, -count(amount*float64(unit)/float64(24*time.Hour), 1))
}

// count truncates amount to an int, capped so amount×daysPer stays within
// maxRelativeDays.
func count(amount, daysPer float64) int {
	if amount*daysPer > maxRelativeDays {
		return int(maxRelativeDays / daysPer)
	}
	return int(amount)
}

type relativeCheck func(input, target, now time.Time, tolerance time.Duration) bool

func moreThanAgo(input, target, _ time.Time, _ time.Duration) bool {
	return input.Before(target)
}

func lessThanAgo(input, target, _ time.Time, _ time.Duration) bool {
	return !input.Before(target)
}

func withinLast(input, target, now time.Time, _ time.Duration) bool {
	return !input.Before(target) && !input.After(now)
}

func exactlyAgo(input, target, _ time.Time, tolerance time.Duration) bool {
	return math.Abs(float64(input.Sub(target))) <= float64(tolerance)
}

func evalRelative(check relativeCheck) evalFunc {
	return func(e *Evaluator, a []any) any {
		rd, ok := parseRelativeDate(a[1])
		if !ok {
			return false
		}
		input, ok := toTime(a[0])
		if !ok {
			return false
		}
		now := e.now()
		return check(input, rd.Before(now), now, e.tolerance(rd.Unit))
	}
}
