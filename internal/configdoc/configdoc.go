// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package configdoc implements the configuration validator (spec §4.1):
// a two-pass, error-accumulating transform from a loosely-typed decoded
// JSON document into a fully-typed, internally consistent monitor
// table. The validator never short-circuits on the first fault; it
// collects every independent failure across every monitor and rule
// before returning.
package configdoc

import (
	"fmt"
	"sort"

	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// RawRetryPolicy is the retry_policy object as decoded from JSON, before
// type/range checking.
type RawRetryPolicy struct {
	MaxRetries      *int   `json:"max_retries"`
	RetryTimeout    *int   `json:"retry_timeout"`
	BackoffStrategy string `json:"backoff_strategy"`
}

// RawMonitor is one element of monitors.single as decoded from JSON.
type RawMonitor struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Config      map[string]any `json:"config"`
	RetryPolicy RawRetryPolicy `json:"retry_policy"`
}

// RawRule is one element of rules as decoded from JSON. Monitor carries
// either a single string or a list of strings; RawDocument's JSON
// unmarshaling is the caller's responsibility — callers hand us the
// already-decoded any value here so both shapes can be inspected.
type RawRule struct {
	Name    string `json:"name"`
	Monitor any    `json:"monitor"`
}

// RawDocument is the full decoded configuration document (spec §6).
type RawDocument struct {
	Monitors []RawMonitor `json:"monitors.single"`
	Rules    []RawRule    `json:"rules"`
}

// MonitorRecord is a fully-typed, validated monitor (spec §3 "Monitor
// record"). Immutable once constructed by Validate.
type MonitorRecord struct {
	ID          string
	Type        string
	Config      map[string]any
	RetryPolicy retry.Policy
	InformTo    []string
}

// Document is the output of a successful Validate call: every monitor
// that passed validation, in declaration order.
type Document struct {
	Monitors []MonitorRecord
}

// ValidationError aggregates every independent fault found across a
// document. Reasons are deduplicated and path-prefixed so a caller can
// locate the exact fault (spec §4.1 "Error taxonomy").
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 1 {
		return e.Reasons[0]
	}
	return fmt.Sprintf("%d configuration errors found", len(e.Reasons))
}

type errCollector struct {
	seen    map[string]struct{}
	reasons []string
}

func newErrCollector() *errCollector {
	return &errCollector{seen: make(map[string]struct{})}
}

func (c *errCollector) add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if _, dup := c.seen[msg]; dup {
		return
	}
	c.seen[msg] = struct{}{}
	c.reasons = append(c.reasons, msg)
}

func (c *errCollector) err() error {
	if len(c.reasons) == 0 {
		return nil
	}
	return &ValidationError{Reasons: c.reasons}
}

// Validate runs the two-pass algorithm from spec §4.1. schemas maps a
// protocol tag (as advertised by a registered worker factory) to its
// declarative field schema.
func Validate(doc RawDocument, schemas map[string]schema.Fields) (Document, error) {
	errs := newErrCollector()

	// Pass 1 — rule structural check, and build name -> targeted-monitors
	// index for pass 2's coverage check.
	ruleTargets := make(map[string][]string) // monitor name -> rule names targeting it
	for _, r := range doc.Rules {
		name := r.Name
		monitors, ok := monitorNames(r.Monitor)
		if !ok {
			label := name
			if label == "" {
				label = "UNKNOWN"
			}
			errs.add("Rule '%s' must have a 'monitor' field", label)
			continue
		}
		if name == "" {
			errs.add("Rule 'UNKNOWN' must have a 'name' field")
			continue
		}
		for _, m := range monitors {
			ruleTargets[m] = append(ruleTargets[m], name)
		}
	}

	// Pass 2 — per-monitor validation, independent of each other.
	var records []MonitorRecord
	for _, m := range doc.Monitors {
		rec, ok := validateMonitor(m, schemas, ruleTargets, errs)
		if ok {
			records = append(records, rec)
		}
	}

	if err := errs.err(); err != nil {
		return Document{}, err
	}
	return Document{Monitors: records}, nil
}

func monitorNames(v any) ([]string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, false
		}
		return []string{t}, true
	case []string:
		if len(t) == 0 {
			return nil, false
		}
		for _, s := range t {
			if s == "" {
				return nil, false
			}
		}
		return t, true
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok || s == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func validateMonitor(m RawMonitor, schemas map[string]schema.Fields, ruleTargets map[string][]string, errs *errCollector) (MonitorRecord, bool) {
	label := m.Name
	if label == "" {
		label = "UNKNOWN"
	}

	if m.Name == "" {
		errs.add("Monitor '%s' -> name: must be a non-empty string", label)
		return MonitorRecord{}, false
	}
	fields, known := schemas[m.Type]
	if m.Type == "" || !known {
		errs.add("Monitor '%s' -> type: unknown protocol type %q", label, m.Type)
		return MonitorRecord{}, false
	}

	ok := true

	policy, policyOK := validateRetryPolicy(label, m.RetryPolicy, errs)
	if !policyOK {
		ok = false
	}

	if m.Config == nil {
		errs.add("Monitor '%s' -> config: is required", label)
		for _, f := range fields {
			if f.Required {
				errs.add("Monitor '%s' -> config.%s: is required", label, f.Name)
			}
		}
		ok = false
	} else if err := fields.Validate(m.Config); err != nil {
		if ve, isVE := err.(*schema.ValidationError); isVE {
			for _, v := range ve.Violations {
				errs.add("Monitor '%s' -> config.%s: %s", label, v.Field, v.Reason)
			}
		} else {
			errs.add("Monitor '%s' -> config: %s", label, err)
		}
		ok = false
	}

	informTo := ruleTargets[m.Name]
	if len(informTo) == 0 {
		errs.add("Monitor '%s' is not targeted by any rule", label)
		ok = false
	} else {
		sort.Strings(informTo)
	}

	if !ok {
		return MonitorRecord{}, false
	}

	return MonitorRecord{
		ID:          m.Name,
		Type:        m.Type,
		Config:      applyDefaults(m.Config, fields),
		RetryPolicy: policy,
		InformTo:    informTo,
	}, true
}

// validateRetryPolicy checks the retry_policy shape (spec §4.1 step 2),
// reporting each failing field independently, and returns the resolved
// policy plus whether the policy as a whole is usable. A null
// max_retries is accepted structurally and resolves to 0 retries.
func validateRetryPolicy(label string, rp RawRetryPolicy, errs *errCollector) (retry.Policy, bool) {
	ok := true
	maxRetries := 0
	if rp.MaxRetries != nil {
		if *rp.MaxRetries < 0 {
			errs.add("Monitor '%s' -> retry_policy.max_retries: must be >= 0", label)
			ok = false
		} else {
			maxRetries = *rp.MaxRetries
		}
	}
	if rp.RetryTimeout == nil || *rp.RetryTimeout <= 0 {
		errs.add("Monitor '%s' -> retry_policy.retry_timeout: must be a positive integer", label)
		ok = false
	}
	strategy, strategyErr := retry.ParseStrategy(rp.BackoffStrategy)
	if strategyErr != nil {
		errs.add("Monitor '%s' -> retry_policy.backoff_strategy: must be one of fixed, linear, exponential", label)
		ok = false
	}
	if !ok {
		return retry.Policy{}, false
	}
	return retry.Policy{
		MaxRetries:      maxRetries,
		BackoffStrategy: strategy,
		RetryTimeoutMs:  *rp.RetryTimeout,
	}, true
}

func applyDefaults(config map[string]any, fields schema.Fields) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	for _, f := range fields {
		if _, present := out[f.Name]; !present && f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}
