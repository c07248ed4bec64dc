// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a
// thread-safe singleton validator instance with user-friendly error
// messages. Every protocol worker package (httpworker, mqttworker,
// wsworker) calls ValidateStruct on its typed Config after building it
// from the raw decoded map, as a second check behind schema.Fields'
// own per-field validation (spec §4.1).
//
// # Quick Start
//
//	type Config struct {
//	    URL      string        `validate:"required,url"`
//	    Interval time.Duration `validate:"gte=100000000"`
//	}
//
//	func New(id envelope.MonitorID, raw map[string]any, inbox chan<- envelope.Envelope) (worker.Worker, error) {
//	    cfg := parseConfig(raw)
//	    if err := validation.ValidateStruct(&cfg); err != nil {
//	        return nil, fmt.Errorf("invalid config: %w", err)
//	    }
//	    return &Worker{cfg: cfg}, nil
//	}
//
// # Common Validation Tags
//
// String validations:
//   - required: Field must not be empty
//   - min=n / max=n: Length bounds
//   - url: Valid URL format
//   - oneof=a b c: Must be one of the specified values
//
// Numeric validations:
//   - gte=n / lte=n / gt=n / lt=n: Value bounds (works on time.Duration too)
//
// # Error Types
//
// ValidationError represents a single field validation failure:
//
//	type ValidationError struct {
//	    Field()   string      // Struct field name
//	    Tag()     string      // Validation tag that failed
//	    Param()   string      // Tag parameter (e.g., "100" for max=100)
//	    Value()   interface{} // Actual value that failed
//	    Error()   string      // Human-readable message
//	}
//
// RequestValidationError aggregates multiple field errors:
//
//	type RequestValidationError struct {
//	    Errors() []ValidationError
//	    Error()  string // Combined message
//	}
//
// # Thread Safety
//
// The singleton validator is initialized once and safe for concurrent
// use across every protocol worker package:
//
//	validate := validation.GetValidator()  // Thread-safe
//	err := validation.ValidateStruct(&cfg) // Thread-safe
package validation
