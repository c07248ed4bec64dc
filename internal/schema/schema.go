// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package schema implements the declarative field-schema contract (spec
// §3 "Field schema"): the set of rules a monitor's raw config map must
// satisfy for its protocol worker, and the pure function that checks a
// config map against those rules.
package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// FieldType names the accepted scalar shape of a field's value.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeMap    FieldType = "map"
	TypeList   FieldType = "list"
	TypeEnum   FieldType = "enum"
)

// Rules bounds the acceptable values of a field beyond its type.
type Rules struct {
	Min     *float64
	Max     *float64
	Pattern *regexp.Regexp
	// Enum lists the closed set of accepted values for TypeEnum fields.
	Enum   []string
	Custom func(value any) error
}

// Field declares one named, typed, optionally-constrained entry of a
// monitor's config map.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any
	Rules    Rules
}

// Fields is a declarative schema: the full set of fields a given
// protocol worker's config map is checked against.
type Fields []Field

// Validate checks data against every declared field. It accumulates all
// violations rather than stopping at the first, mirroring the
// config validator's error-accumulating stance so a single failing
// monitor config surfaces every violation at once.
func (fs Fields) Validate(data map[string]any) error {
	var violations []Violation
	for _, f := range fs {
		v, present := data[f.Name]
		if !present {
			if f.Required {
				violations = append(violations, Violation{Field: f.Name, Reason: "is required"})
			}
			continue
		}
		if err := f.validateValue(v); err != nil {
			violations = append(violations, Violation{Field: f.Name, Reason: err.Error()})
		}
	}
	known := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		known[f.Name] = struct{}{}
	}
	for name := range data {
		if _, ok := known[name]; !ok {
			violations = append(violations, Violation{Field: name, Reason: "unexpected field"})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].Field < violations[j].Field })
	return &ValidationError{Violations: violations}
}

func (f Field) validateValue(v any) error {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		if f.Rules.Pattern != nil && !f.Rules.Pattern.MatchString(s) {
			return fmt.Errorf("value %q does not match pattern %q", s, f.Rules.Pattern.String())
		}
	case TypeNumber:
		n, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("must be a number")
		}
		if f.Rules.Min != nil && n < *f.Rules.Min {
			return fmt.Errorf("must be >= %v", *f.Rules.Min)
		}
		if f.Rules.Max != nil && n > *f.Rules.Max {
			return fmt.Errorf("must be <= %v", *f.Rules.Max)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("must be a bool")
		}
	case TypeMap:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("must be a map")
		}
	case TypeList:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("must be a list")
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		valid := false
		for _, allowed := range f.Rules.Enum {
			if s == allowed {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("must be one of %v", f.Rules.Enum)
		}
	default:
		return fmt.Errorf("unknown field type %q", f.Type)
	}
	if f.Rules.Custom != nil {
		if err := f.Rules.Custom(v); err != nil {
			return err
		}
	}
	return nil
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Violation names the single field and reason behind one failed rule.
type Violation struct {
	Field  string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// ValidationError collects every schema violation found for one payload.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return e.Violations[0].String()
	}
	msg := fmt.Sprintf("%d field violations:", len(e.Violations))
	for _, v := range e.Violations {
		msg += " " + v.String() + ";"
	}
	return msg
}
