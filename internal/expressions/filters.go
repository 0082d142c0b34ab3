package expressions

import (
	"fmt"
	"math"
	"sort"
)

type argKind int

const (
	argAny argKind = iota
	argString
	argInteger // positive integer
	argKeyPath // literal string path into array items
)

type argSpec struct {
	kind     argKind
	optional bool
}

// filterSpec describes one supported filter. The table below is the closed
// set; names missing from it are handled by the strictness setting.
type filterSpec struct {
	args []argSpec
	// summarizes marks filters that reduce an array to a value.
	summarizes bool
	// keyPathOnDigest is the index of the key path argument that digest
	// events require, or -1.
	keyPathOnDigest int
}

func req(k argKind) argSpec { return argSpec{kind: k} }
func opt(k argKind) argSpec { return argSpec{kind: k, optional: true} }

var filterTable = map[string]filterSpec{
	"default":       {args: []argSpec{req(argAny)}, keyPathOnDigest: -1},
	"upcase":        {keyPathOnDigest: -1},
	"downcase":      {keyPathOnDigest: -1},
	"capitalize":    {keyPathOnDigest: -1},
	"strip":         {keyPathOnDigest: -1},
	"escape":        {keyPathOnDigest: -1},
	"size":          {summarizes: true, keyPathOnDigest: -1},
	"first":         {summarizes: true, keyPathOnDigest: -1},
	"last":          {summarizes: true, keyPathOnDigest: -1},
	"json":          {args: []argSpec{opt(argInteger)}, summarizes: true, keyPathOnDigest: -1},
	"truncate":      {args: []argSpec{req(argInteger), opt(argString)}, keyPathOnDigest: -1},
	"truncatewords": {args: []argSpec{req(argInteger), opt(argString)}, keyPathOnDigest: -1},
	"append":        {args: []argSpec{req(argString)}, keyPathOnDigest: -1},
	"prepend":       {args: []argSpec{req(argString)}, keyPathOnDigest: -1},
	"replace":       {args: []argSpec{req(argString), req(argString)}, keyPathOnDigest: -1},
	"date":          {args: []argSpec{req(argString)}, keyPathOnDigest: -1},
	"join":          {args: []argSpec{opt(argString)}, summarizes: true, keyPathOnDigest: -1},
	"pluralize":     {args: []argSpec{req(argString), opt(argString)}, keyPathOnDigest: -1},
	"toSentence":    {args: []argSpec{opt(argKeyPath), opt(argInteger), opt(argString)}, summarizes: true, keyPathOnDigest: 0},
	"digest":        {args: []argSpec{opt(argInteger), opt(argKeyPath), opt(argString)}, summarizes: true, keyPathOnDigest: 1},
	"map":           {args: []argSpec{req(argKeyPath)}, summarizes: true, keyPathOnDigest: -1},
	"sort":          {args: []argSpec{opt(argKeyPath)}, summarizes: true, keyPathOnDigest: -1},
	"where":         {args: []argSpec{req(argKeyPath), opt(argAny)}, summarizes: true, keyPathOnDigest: -1},
}

// FilterNames returns the supported filter names, sorted.
func FilterNames() []string {
	names := make([]string, 0, len(filterTable))
	for n := range filterTable {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsSummarizingFilter reports whether a filter reduces an array to a value.
func IsSummarizingFilter(name string) bool {
	return filterTable[name].summarizes
}

// checkArgs validates argument count and literal types. It returns the
// first problem found, or "".
func (s filterSpec) checkArgs(name string, args []FilterArg, digestEvents bool) string {
	required := 0
	for _, a := range s.args {
		if !a.optional {
			required++
		}
	}
	if len(args) < required {
		if required == 1 {
			return fmt.Sprintf("%s expects 1 argument", name)
		}
		return fmt.Sprintf("%s expects at least %d arguments", name, required)
	}
	if len(args) > len(s.args) {
		return fmt.Sprintf("%s accepts at most %d arguments, got %d", name, len(s.args), len(args))
	}

	if digestEvents && s.keyPathOnDigest >= 0 {
		i := s.keyPathOnDigest
		if i >= len(args) || args[i].Ref != nil {
			return fmt.Sprintf("%s requires a key path for digest events, e.g. %s", name, keyPathExample(name))
		}
	}

	for i, arg := range args {
		if msg := checkArg(name, i, s.args[i].kind, arg); msg != "" {
			return msg
		}
	}
	return ""
}

func keyPathExample(name string) string {
	if name == "digest" {
		return "digest: 2, 'payload.name'"
	}
	return name + ": 'payload.name'"
}

func checkArg(name string, i int, kind argKind, arg FilterArg) string {
	if arg.Ref != nil {
		if kind == argKeyPath {
			return fmt.Sprintf("%s expects argument %d to be a quoted key path", name, i+1)
		}
		// Dynamic values are resolved at render time.
		return ""
	}
	switch kind {
	case argString, argKeyPath:
		if s, ok := arg.Literal.(string); !ok || (kind == argKeyPath && s == "") {
			return fmt.Sprintf("%s expects argument %d to be a string", name, i+1)
		}
	case argInteger:
		if !isPositiveInteger(arg.Literal) {
			return fmt.Sprintf("%s expects argument %d to be a positive integer", name, i+1)
		}
	}
	return ""
}

func isPositiveInteger(v any) bool {
	switch n := v.(type) {
	case int:
		return n > 0
	case float64:
		return n > 0 && n == math.Trunc(n)
	default:
		return false
	}
}

// keyPathArg returns the literal key path argument of a filter, if the
// filter takes one and it was supplied.
func (s filterSpec) keyPathArg(args []FilterArg) (string, bool) {
	for i, a := range s.args {
		if a.kind != argKeyPath || i >= len(args) {
			continue
		}
		if v, ok := args[i].Literal.(string); ok && args[i].Ref == nil && v != "" {
			return v, true
		}
	}
	return "", false
}
