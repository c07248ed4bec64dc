// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package retry implements the retry/backoff policy engine (spec §4.5):
// a pure function mapping a failure count and a policy to a recovery
// action. It touches no I/O and holds no state; the coordinator is the
// only component that mutates a retry counter.
package retry

import (
	"errors"
	"fmt"
)

// Strategy is the closed enum of backoff formulas (spec §3 "Retry
// policy"). String values parsed from configuration are converted to
// this type exactly once, at validation time, so malformed strategy
// names can never reach the policy engine.
type Strategy string

const (
	Fixed       Strategy = "fixed"
	Linear      Strategy = "linear"
	Exponential Strategy = "exponential"
)

// ParseStrategy converts a configuration string into a Strategy,
// rejecting anything outside the closed set.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Fixed, Linear, Exponential:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("retry: unknown backoff_strategy %q", s)
	}
}

// Policy is the triple governing retry behavior for one monitor (spec
// §3 "Retry policy"). All three fields are required; there are no
// defaults at this layer.
type Policy struct {
	MaxRetries      int
	BackoffStrategy Strategy
	RetryTimeoutMs  int
}

// Command discriminates the two recovery-action variants.
type Command string

const (
	CommandRetry    Command = "retry"
	CommandShutdown Command = "shutdown"
)

// Action is the recovery action produced by Decide and consumed by a
// protocol worker's recover operation (spec §3 "Recovery action").
type Action struct {
	Command Command
	DelayMs int
}

// ErrNegativeRetryCount is returned when Decide is called with a
// negative retry_count, which can never occur under correct coordinator
// bookkeeping.
var ErrNegativeRetryCount = errors.New("retry: retry_count must be non-negative")

// Decide implements the pure function from spec §4.5:
//
//	if retry_count >= max_retries: shutdown
//	else: delay = base                         (fixed)
//	            = base * (retry_count + 1)      (linear)
//	            = base * 2^retry_count          (exponential)
//	      retry after delay
//
// retry_count is the number of prior failures before the current one;
// the current failure is attempt retry_count+1. Decide never performs
// I/O and never mutates external state — its output is purely a
// function of its inputs.
func Decide(retryCount int, p Policy) (Action, error) {
	if retryCount < 0 {
		return Action{}, ErrNegativeRetryCount
	}
	if retryCount >= p.MaxRetries {
		return Action{Command: CommandShutdown}, nil
	}
	delay, err := delayFor(p.BackoffStrategy, p.RetryTimeoutMs, retryCount)
	if err != nil {
		return Action{}, err
	}
	return Action{Command: CommandRetry, DelayMs: delay}, nil
}

func delayFor(strategy Strategy, base, retryCount int) (int, error) {
	switch strategy {
	case Fixed:
		return base, nil
	case Linear:
		return base * (retryCount + 1), nil
	case Exponential:
		return base * (1 << uint(retryCount)), nil
	default:
		return 0, fmt.Errorf("retry: unknown backoff_strategy %q", strategy)
	}
}
