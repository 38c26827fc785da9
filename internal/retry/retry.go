/*
 * Copyright (c) "BoltGraph"
 * BoltGraph Authors
 *
 * This file is part of graphdb-go-driver.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

// Package retry implements the managed transaction runner's backoff loop
// (C8): exponential delay with jitter, error classification, and a
// wall-clock cutoff. It is deliberately independent of Session so it can be
// unit tested without a connection or a pool.
//
// The delay stream itself is generated by cenkalti/backoff's
// ExponentialBackOff, whose NextBackOff() already implements exactly
// spec.md §4.5's formula (current interval times a multiplier, jittered
// uniformly by a randomization factor, with a MaxElapsedTime cutoff) —
// there is no reason to hand-roll it.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/log"
)

// Config holds the backoff parameters from spec.md §6/§4.5.
type Config struct {
	MaxRetryTime    time.Duration
	InitialDelay    time.Duration
	DelayMultiplier float64
	DelayJitter     float64 // fraction, e.g. 0.2 == ±20%
}

// DefaultConfig mirrors the teacher's defaults (30s budget, 1s initial
// delay, 2x multiplier, 20% jitter).
func DefaultConfig() Config {
	return Config{
		MaxRetryTime:    30 * time.Second,
		InitialDelay:    time.Second,
		DelayMultiplier: 2.0,
		DelayJitter:     0.2,
	}
}

// clockFunc adapts a plain func() time.Time to backoff.Clock, so tests can
// drive the elapsed-time cutoff deterministically.
type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// State drives one managed-transaction retry loop. It is single-use: build
// a fresh State per ExecuteRead/ExecuteWrite call.
type State struct {
	b     *backoff.ExponentialBackOff
	log   log.Logger
	logID string
	sleep func(time.Duration)

	started      bool
	attempts     int
	errs         []error
	lastErr      error
	lastWasRetry bool
}

// NewState builds a retry State. A nil Logger is replaced with log.Nop().
func NewState(cfg Config, logger log.Logger, logID string, now func() time.Time, sleep func(time.Duration)) *State {
	if logger == nil {
		logger = log.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.Multiplier = cfg.DelayMultiplier
	b.RandomizationFactor = cfg.DelayJitter
	// spec.md places no separate per-delay cap, only a total time budget;
	// a zero MaxInterval would instead clamp every delay after the first
	// to zero, so this picks a value effectively unreachable in practice.
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = cfg.MaxRetryTime
	b.Clock = clockFunc(now)
	b.Reset()
	return &State{
		b:     b,
		log:   logger,
		logID: logID,
		sleep: sleep,
	}
}

// Continue reports whether another attempt should be made: true for the
// very first attempt, and for subsequent ones only while the elapsed time
// since the *first* attempt is still under MaxRetryTime (§4.5: "the elapsed
// clock starts after the first attempt"). ExponentialBackOff's own
// GetElapsedTime counts from its last Reset, which OnFailure performs when
// it records the first retryable failure, i.e. at the end of the first
// attempt.
func (s *State) Continue() bool {
	if !s.started {
		s.started = true
		return true
	}
	return s.b.GetElapsedTime() < s.b.MaxElapsedTime
}

// Attempts returns how many times the loop has entered a transaction
// function so far (including the current one).
func (s *State) Attempts() int { return s.attempts }

// OnAttemptStart must be called once per iteration before running the
// transaction function, so Attempts() and backoff logging stay accurate.
func (s *State) OnAttemptStart() {
	s.attempts++
}

// OnFailure records err from the current attempt. If err is not retryable,
// it returns immediately (false) so the caller re-raises without sleeping.
// Otherwise it appends err to the history, sleeps for the next jittered
// backoff delay, and returns true, meaning "try again". If the backoff
// budget is exhausted (backoff.Stop), it also returns false so the caller
// gives up instead of sleeping forever.
func (s *State) OnFailure(err error) bool {
	s.lastErr = err
	if !db.IsRetryable(err) {
		s.lastWasRetry = false
		return false
	}

	if len(s.errs) == 0 {
		// Start the elapsed-time budget at the end of the first attempt.
		s.b.Reset()
	}
	delay := s.b.NextBackOff()
	if delay == backoff.Stop {
		s.lastWasRetry = true
		s.errs = append(s.errs, err)
		return false
	}

	s.lastWasRetry = true
	s.errs = append(s.errs, err)
	s.log.Debugf(log.Retry, s.logID, "retrying after %s (attempt %d) due to: %v", delay, s.attempts, err)
	s.sleep(delay)
	return true
}

// LastErr is the most recent error recorded, whether or not it was
// retryable.
func (s *State) LastErr() error { return s.lastErr }

// LastWasRetryable reports whether the loop is giving up after a string of
// retryable errors (vs a single non-retryable one or immediate success).
func (s *State) LastWasRetryable() bool { return s.lastWasRetry }

// Errs returns every retryable error seen this loop, oldest first.
func (s *State) Errs() []error { return s.errs }
