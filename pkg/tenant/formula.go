package tenant

import (
	"fmt"
	"strings"
)

// Op is a formula comparison operator.
type Op string

const (
	// OpNotEmpty matches records whose field holds a non-blank value.
	OpNotEmpty = Op("notEmpty")

	// OpEmpty matches records whose field is absent, nil, or blank.
	OpEmpty = Op("empty")

	// OpIn matches records whose field equals one of the given values.
	// An absent field matches when the value set contains "".
	OpIn = Op("in")
)

// Condition is one field comparison.
type Condition struct {
	Field  string
	Op     Op
	Values []any
}

// Formula is a conjunction of conditions. Adapters compile it to their
// native query language; the in-memory store evaluates it directly. An empty
// formula matches everything.
type Formula struct {
	All []Condition
}

// String renders the formula for logs.
func (f Formula) String() string {
	if len(f.All) == 0 {
		return "TRUE()"
	}
	parts := make([]string, len(f.All))
	for i, c := range f.All {
		switch c.Op {
		case OpNotEmpty:
			parts[i] = fmt.Sprintf("{%s} != ''", c.Field)
		case OpEmpty:
			parts[i] = fmt.Sprintf("{%s} = ''", c.Field)
		case OpIn:
			vals := make([]string, len(c.Values))
			for j, v := range c.Values {
				vals[j] = fmt.Sprintf("%v", v)
			}
			parts[i] = fmt.Sprintf("{%s} IN (%s)", c.Field, strings.Join(vals, ", "))
		default:
			parts[i] = fmt.Sprintf("{%s} %s ?", c.Field, c.Op)
		}
	}
	return "AND(" + strings.Join(parts, ", ") + ")"
}

// FieldNames returns the distinct fields the formula references.
func (f Formula) FieldNames() []string {
	seen := make(map[string]bool, len(f.All))
	names := make([]string, 0, len(f.All))
	for _, c := range f.All {
		if !seen[c.Field] {
			seen[c.Field] = true
			names = append(names, c.Field)
		}
	}
	return names
}

// Without returns a copy of the formula with conditions on field removed.
func (f Formula) Without(field string) Formula {
	out := Formula{}
	for _, c := range f.All {
		if c.Field != field {
			out.All = append(out.All, c)
		}
	}
	return out
}

// Matches evaluates the formula against a record's fields.
func (f Formula) Matches(fields map[string]any) bool {
	for _, c := range f.All {
		if !c.matches(fields) {
			return false
		}
	}
	return true
}

func (c Condition) matches(fields map[string]any) bool {
	v, present := fields[c.Field]
	switch c.Op {
	case OpNotEmpty:
		return present && !isBlank(v)
	case OpEmpty:
		return !present || isBlank(v)
	case OpIn:
		for _, want := range c.Values {
			if !present && isBlank(want) {
				return true
			}
			if present && valueEqual(v, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func valueEqual(a, b any) bool {
	// Numeric formula literals arrive as ints while JSON-decoded record
	// values are float64; compare across that divide.
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
