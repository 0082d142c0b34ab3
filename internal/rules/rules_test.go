package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rendis/stepcheck/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setOf map[string]bool

func (s setOf) Contains(p string) bool { return s[p] }

func mustParse(t *testing.T, raw string) Node {
	t.Helper()
	n, err := Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return n
}

// --- Parse ---

func TestParse_Operator(t *testing.T) {
	n := mustParse(t, `{">": [{"var": "payload.age"}, 18]}`)
	op, ok := n.(Op)
	require.True(t, ok)
	assert.Equal(t, ">", op.Operator)
	require.Len(t, op.Operands, 2)
	assert.Equal(t, Var{Path: "payload.age"}, op.Operands[0])
	assert.Equal(t, Literal{Value: 18.0}, op.Operands[1])
}

func TestParse_VarWithDefault(t *testing.T) {
	n := mustParse(t, `{"var": ["payload.name", "anon"]}`)
	assert.Equal(t, Var{Path: "payload.name", Default: "anon", HasDefault: true}, n)
}

func TestParse_LiteralAndMixedArrays(t *testing.T) {
	lit := mustParse(t, `[1, 2]`)
	assert.Equal(t, Literal{Value: []any{1.0, 2.0}}, lit)

	mixed := mustParse(t, `[1, {"var": "payload.x"}]`)
	list, ok := mixed.(List)
	require.True(t, ok)
	assert.Len(t, list.Items, 2)
}

func TestParse_SingleOperandShorthand(t *testing.T) {
	n := mustParse(t, `{"!": {"var": "payload.flag"}}`)
	op := n.(Op)
	require.Len(t, op.Operands, 1)
	assert.Equal(t, Var{Path: "payload.flag"}, op.Operands[0])
}

func TestParse_MultiKeyObjectIsData(t *testing.T) {
	n := mustParse(t, `{"amount": 2, "unit": "days"}`)
	_, ok := n.(Literal)
	assert.True(t, ok)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(json.RawMessage(`{`))
	require.Error(t, err)
	var ce *schema.CheckError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeValidation, ce.Code)

	_, err = Parse(map[string]any{"var": map[string]any{"a": 1}})
	require.Error(t, err)
}

func TestVariables(t *testing.T) {
	n := mustParse(t, `{"and": [
		{"==": [{"var": "payload.a"}, 1]},
		{"or": [{"var": "subscriber.data.b"}, {"in": [{"var": "payload.a"}, [1, 2]]}]}
	]}`)
	assert.Equal(t, []string{"payload.a", "subscriber.data.b"}, Variables(n))
}

// --- Validate ---

func TestValidate_AllowedVariable(t *testing.T) {
	rule := mustParse(t, `{">": [{"var": "payload.age"}, 18]}`)
	issues := Validate(rule, setOf{"payload.age": true}, DefaultNamespaces)
	assert.Empty(t, issues)
}

func TestValidate_AbsentVariable(t *testing.T) {
	rule := mustParse(t, `{">": [{"var": "payload.age"}, 18]}`)
	issues := Validate(rule, setOf{}, DefaultNamespaces)

	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueIllegalVariable, issues[0].IssueType)
	assert.Equal(t, "payload.age", issues[0].VariableName)
	assert.Equal(t, `Variable "payload.age" is not supported`, issues[0].Message)
}

func TestValidate_NamespaceRestricted(t *testing.T) {
	rule := mustParse(t, `{"==": [{"var": "steps.email.seen"}, true]}`)
	issues := Validate(rule, setOf{"steps.email.seen": true}, DefaultNamespaces)
	require.Len(t, issues, 1)
	assert.Equal(t, "steps.email.seen", issues[0].VariableName)
}

func TestValidate_UnknownOperator(t *testing.T) {
	rule := mustParse(t, `{"regex": [{"var": "payload.a"}, "x"]}`)
	issues := Validate(rule, setOf{}, DefaultNamespaces)

	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueIllegalVariable, issues[0].IssueType)
	assert.Equal(t, `Operator "regex" is not supported`, issues[0].Message)
}

func TestValidate_Alias(t *testing.T) {
	rule := mustParse(t, `{"=": [{"var": "payload.a"}, 1]}`)
	assert.Empty(t, Validate(rule, setOf{"payload.a": true}, DefaultNamespaces))
}

func TestValidate_MissingValue(t *testing.T) {
	cases := map[string]string{
		"empty string":  `{"==": [{"var": "payload.a"}, ""]}`,
		"null operand":  `{"startsWith": [{"var": "payload.a"}, null]}`,
		"arity":         `{"==": [{"var": "payload.a"}]}`,
		"empty var":     `{"==": [{"var": ""}, 1]}`,
		"and no args":   `{"and": []}`,
		"between range": `{"between": [{"var": "payload.a"}, [1]]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			issues := Validate(mustParse(t, raw), setOf{"payload.a": true}, DefaultNamespaces)
			require.NotEmpty(t, issues)
			assert.Equal(t, schema.IssueMissingValue, issues[0].IssueType)
		})
	}
}

func TestValidate_RelativeDate(t *testing.T) {
	good := mustParse(t, `{"withinLast": [{"var": "payload.at"}, {"amount": 3, "unit": "days"}]}`)
	assert.Empty(t, Validate(good, setOf{"payload.at": true}, DefaultNamespaces))

	for _, raw := range []string{
		`{"withinLast": [{"var": "payload.at"}, {"amount": 0, "unit": "days"}]}`,
		`{"withinLast": [{"var": "payload.at"}, {"amount": 2, "unit": "fortnights"}]}`,
	} {
		issues := Validate(mustParse(t, raw), setOf{"payload.at": true}, DefaultNamespaces)
		require.Len(t, issues, 1, raw)
		assert.Equal(t, MsgInvalidRelativeDate, issues[0].Message)
	}
}

func TestValidate_EveryOperatorKnown(t *testing.T) {
	for _, name := range Operators() {
		_, _, ok := lookupOperator(name)
		assert.True(t, ok, name)
		spec := vocabulary[name]
		assert.True(t, spec.lazy || spec.eval != nil, "%s has no evaluator", name)
	}
}

// --- Evaluate ---

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func eval(t *testing.T, raw string, data map[string]any) bool {
	t.Helper()
	e := NewEvaluator(WithClock(fixedNow))
	out, err := e.Evaluate(context.Background(), mustParse(t, raw), data)
	require.NoError(t, err)
	return out
}

func TestEvaluate_Comparison(t *testing.T) {
	data := map[string]any{"payload": map[string]any{"age": 21, "score": "7", "vip": "true"}}

	assert.True(t, eval(t, `{">": [{"var": "payload.age"}, 18]}`, data))
	assert.False(t, eval(t, `{"<": [{"var": "payload.age"}, 18]}`, data))
	assert.True(t, eval(t, `{"==": [{"var": "payload.score"}, 7]}`, data))
	assert.False(t, eval(t, `{"===": [{"var": "payload.score"}, 7]}`, data))
	assert.True(t, eval(t, `{"==": [{"var": "payload.vip"}, true]}`, data))
	assert.True(t, eval(t, `{"<=": [18, {"var": "payload.age"}, 30]}`, data))
	assert.False(t, eval(t, `{"<": [18, {"var": "payload.age"}, 20]}`, data))
	assert.True(t, eval(t, `{"=": [{"var": "payload.age"}, "21"]}`, data))
}

func TestEvaluate_Dates(t *testing.T) {
	data := map[string]any{"payload": map[string]any{"at": "2025-01-02T00:00:00Z"}}
	assert.True(t, eval(t, `{">": [{"var": "payload.at"}, "2025-01-01"]}`, data))
}

func TestEvaluate_Strings(t *testing.T) {
	data := map[string]any{"payload": map[string]any{"email": "ada@example.com"}}

	assert.True(t, eval(t, `{"endsWith": [{"var": "payload.email"}, "@example.com"]}`, data))
	assert.True(t, eval(t, `{"doesNotBeginWith": [{"var": "payload.email"}, "bob"]}`, data))
	assert.False(t, eval(t, `{"contains": [{"var": "payload.missing"}, "a"]}`, data))
}

func TestEvaluate_MembershipAndNull(t *testing.T) {
	data := map[string]any{"payload": map[string]any{"plan": "pro", "n": 5}}

	assert.True(t, eval(t, `{"in": [{"var": "payload.plan"}, ["pro", "team"]]}`, data))
	assert.True(t, eval(t, `{"notIn": [{"var": "payload.plan"}, ["free"]]}`, data))
	assert.True(t, eval(t, `{"in": ["ro", {"var": "payload.plan"}]}`, data))
	assert.True(t, eval(t, `{"null": [{"var": "payload.missing"}]}`, data))
	assert.True(t, eval(t, `{"notNull": [{"var": "payload.plan"}]}`, data))
	assert.True(t, eval(t, `{"between": [{"var": "payload.n"}, [1, 10]]}`, data))
	assert.False(t, eval(t, `{"notBetween": [{"var": "payload.n"}, [1, 10]]}`, data))
}

func TestEvaluate_Logic(t *testing.T) {
	data := map[string]any{"payload": map[string]any{"a": 1, "b": 0}}

	assert.True(t, eval(t, `{"and": [{"var": "payload.a"}, {"!": {"var": "payload.b"}}]}`, data))
	assert.True(t, eval(t, `{"or": [{"var": "payload.b"}, {"var": "payload.a"}]}`, data))
	assert.False(t, eval(t, `{"!!": [{"var": "payload.b"}]}`, data))
}

func TestEvaluate_VarDefault(t *testing.T) {
	assert.True(t, eval(t, `{"==": [{"var": ["payload.missing", "x"]}, "x"]}`, map[string]any{}))
}

func TestEvaluate_RelativeDates(t *testing.T) {
	data := map[string]any{"payload": map[string]any{
		"twoDaysAgo":  "2025-06-13T12:00:00Z",
		"tenDaysAgo":  "2025-06-05T12:00:00Z",
		"almostMonth": "2025-05-15T13:30:00Z",
		"lastYear":    "2024-06-12T12:00:00Z",
	}}

	assert.True(t, eval(t, `{"withinLast": [{"var": "payload.twoDaysAgo"}, {"amount": 3, "unit": "days"}]}`, data))
	assert.False(t, eval(t, `{"notWithinLast": [{"var": "payload.twoDaysAgo"}, {"amount": 3, "unit": "days"}]}`, data))
	assert.True(t, eval(t, `{"moreThanXAgo": [{"var": "payload.tenDaysAgo"}, {"amount": 1, "unit": "weeks"}]}`, data))
	assert.True(t, eval(t, `{"lessThanXAgo": [{"var": "payload.twoDaysAgo"}, {"amount": 48, "unit": "hours"}]}`, data))
	assert.True(t, eval(t, `{"exactlyXAgo": [{"var": "payload.almostMonth"}, {"amount": 1, "unit": "months"}]}`, data))
	assert.True(t, eval(t, `{"exactlyXAgo": [{"var": "payload.lastYear"}, {"amount": 1, "unit": "years"}]}`, data))
	assert.False(t, eval(t, `{"exactlyXAgo": [{"var": "payload.tenDaysAgo"}, {"amount": 1, "unit": "weeks"}]}`, data))
}

func TestRelativeDate_HugeAmounts(t *testing.T) {
	now := fixedNow()
	for _, unit := range []Unit{UnitMinutes, UnitHours, UnitDays, UnitWeeks, UnitMonths, UnitYears} {
		for _, amount := range []float64{1e9, 1e12, 1e300} {
			got := RelativeDate{Amount: amount, Unit: unit}.Before(now)
			assert.True(t, got.Before(now.AddDate(-1000, 0, 0)), "%v %s resolved to %s", amount, unit, got)
		}
	}

	data := map[string]any{"payload": map[string]any{"at": "2025-06-13T12:00:00Z"}}
	assert.True(t, eval(t, `{"lessThanXAgo": [{"var": "payload.at"}, {"amount": 1e12, "unit": "hours"}]}`, data))
	assert.False(t, eval(t, `{"moreThanXAgo": [{"var": "payload.at"}, {"amount": 1e12, "unit": "minutes"}]}`, data))
}

func TestEvaluate_CustomTolerance(t *testing.T) {
	data := map[string]any{"payload": map[string]any{"at": "2025-06-08T15:00:00Z"}}
	rule := mustParse(t, `{"exactlyXAgo": [{"var": "payload.at"}, {"amount": 1, "unit": "weeks"}]}`)

	strict := NewEvaluator(WithClock(fixedNow), WithTolerances(map[Unit]time.Duration{UnitWeeks: time.Hour}))
	out, err := strict.Evaluate(context.Background(), rule, data)
	require.NoError(t, err)
	assert.False(t, out)

	loose := NewEvaluator(WithClock(fixedNow))
	out, err = loose.Evaluate(context.Background(), rule, data)
	require.NoError(t, err)
	assert.True(t, out)
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(context.Background(), mustParse(t, `{"regex": ["a", "b"]}`), nil)
	require.Error(t, err)
	var ce *schema.CheckError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeUnsupported, ce.Code)
}
