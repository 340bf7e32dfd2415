package threat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// conditionKind discriminates the Condition union.
type conditionKind int

const (
	kindContains conditionKind = iota + 1
	kindStructured
	kindPredicate
)

// predicateFn is the bundle-specific logic behind a named predicate.
type predicateFn func(*ContractAnalysisBundle) bool

// Condition is a closed union of the three match-condition kinds:
// substring containment against the bundle's serialized text, a
// structured (regex) match against the same text, or a named predicate
// with bundle-specific logic. Construct only through Contains,
// StructuredMatch, or Predicate.
type Condition struct {
	kind    conditionKind
	text    string
	pattern *regexp.Regexp
	name    string
	fn      predicateFn
}

// Contains matches when the bundle's serialized text contains text
// (case-insensitive; the serialized view is lowercased).
func Contains(text string) Condition {
	return Condition{kind: kindContains, text: text}
}

// StructuredMatch matches when pattern matches the bundle's serialized
// text.
func StructuredMatch(pattern *regexp.Regexp) Condition {
	return Condition{kind: kindStructured, pattern: pattern}
}

// Predicate matches when fn returns true for the bundle. The name is
// carried for serialization and diagnostics.
func Predicate(name string, fn predicateFn) Condition {
	return Condition{kind: kindPredicate, name: name, fn: fn}
}

// evaluate runs the condition against the bundle. A panic inside a
// predicate is recovered and returned as an error so one broken rule
// cannot abort a scan.
func (c Condition) evaluate(b *ContractAnalysisBundle) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()

	switch c.kind {
	case kindContains:
		return containsFold(b.searchText(), c.text), nil
	case kindStructured:
		if c.pattern == nil {
			return false, fmt.Errorf("structured condition has nil pattern")
		}
		return c.pattern.MatchString(b.searchText()), nil
	case kindPredicate:
		if c.fn == nil {
			return false, fmt.Errorf("predicate %q has nil function", c.name)
		}
		return c.fn(b), nil
	default:
		return false, fmt.Errorf("unknown condition kind %d", c.kind)
	}
}

// containsFold reports whether haystack (already lowercased by
// searchText) contains needle, lowercasing the needle.
func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, strings.ToLower(needle))
}

// conditionJSON is the wire form of a Condition.
type conditionJSON struct {
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Name    string `json:"name,omitempty"`
}

// MarshalJSON serializes the condition. Predicate conditions serialize
// by name only; the function is resolved again on decode.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{}
	switch c.kind {
	case kindContains:
		out.Kind = "contains"
		out.Text = c.text
	case kindStructured:
		out.Kind = "structured"
		if c.pattern != nil {
			out.Pattern = c.pattern.String()
		}
	case kindPredicate:
		out.Kind = "predicate"
		out.Name = c.name
	default:
		return nil, fmt.Errorf("threat: cannot marshal zero condition")
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a condition. Predicate names must resolve to a
// built-in predicate; arbitrary code cannot arrive over the wire.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var in conditionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "contains":
		if in.Text == "" {
			return fmt.Errorf("threat: contains condition requires text")
		}
		*c = Contains(in.Text)
	case "structured":
		re, err := regexp.Compile(in.Pattern)
		if err != nil {
			return fmt.Errorf("threat: structured condition: %w", err)
		}
		*c = StructuredMatch(re)
	case "predicate":
		fn, ok := builtinPredicates[in.Name]
		if !ok {
			return fmt.Errorf("threat: unknown predicate %q", in.Name)
		}
		*c = Predicate(in.Name, fn)
	default:
		return fmt.Errorf("threat: unknown condition kind %q", in.Kind)
	}
	return nil
}

// Kind returns the wire name of the condition's kind.
func (c Condition) Kind() string {
	switch c.kind {
	case kindContains:
		return "contains"
	case kindStructured:
		return "structured"
	case kindPredicate:
		return "predicate"
	}
	return ""
}
