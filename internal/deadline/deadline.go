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

// Package deadline implements the driver's monotonic time budget: a single
// type that can mean "no deadline", a relative timeout, or an absolute
// instant, and that composes by taking the more restrictive of two.
package deadline

import (
	"errors"
	"time"
)

// ErrNegativeTimeout is returned by FromTimeout when given a negative duration.
var ErrNegativeTimeout = errors.New("deadline: timeout must not be negative")

// Clock abstracts monotonic time so tests can control it. Now must return
// values suitable for subtraction (time.Now satisfies this).
type Clock func() time.Time

// Deadline is either unset (blocks indefinitely), or an absolute instant
// after which Expired reports true; each caller turns expiry into its own
// timeout error. The zero value is unset.
type Deadline struct {
	set bool
	at  time.Time
}

// None is the "no deadline" value, i.e. block indefinitely.
var None = Deadline{}

// FromTimeout builds a Deadline expiring timeout from now, per clock.
// A zero timeout means "expire immediately, still valid" — it is NOT the
// same as None. FromTimeout panics on a negative timeout is avoided in favor
// of returning ErrNegativeTimeout, since this is reachable from client input
// (session/transaction timeouts).
func FromTimeout(timeout time.Duration, now Clock) (Deadline, error) {
	if timeout < 0 {
		return Deadline{}, ErrNegativeTimeout
	}
	return Deadline{set: true, at: now().Add(timeout)}, nil
}

// FromDeadline wraps an absolute instant.
func FromDeadline(at time.Time) Deadline {
	return Deadline{set: true, at: at}
}

// IsSet reports whether d carries an instant, i.e. is not None. This package
// has no constructor that takes "a timeout or a Deadline": callers pick
// FromTimeout, FromDeadline or None directly, and Merge below combines two
// deadlines.
func IsSet(d Deadline) bool { return d.set }

// Merge returns the more restrictive (earlier-expiring) of two deadlines.
// None is the identity: Merge(None, x) == x for any x.
func Merge(a, b Deadline) Deadline {
	if !a.set {
		return b
	}
	if !b.set {
		return a
	}
	if a.at.Before(b.at) {
		return a
	}
	return b
}

// MergeTimeouts is a convenience for the common case of merging two
// relative timeouts measured from now, as spec'd by
// "merge_deadlines_and_timeouts". A zero-or-negative duration is treated as
// "not set" (i.e. no cap from that side), since callers use 0 to mean
// "unbounded" throughout this driver's configuration surface.
func MergeTimeouts(now Clock, timeouts ...time.Duration) Deadline {
	result := None
	for _, t := range timeouts {
		if t <= 0 {
			continue
		}
		d, err := FromTimeout(t, now)
		if err != nil {
			continue
		}
		result = Merge(result, d)
	}
	return result
}

// ToTimeout projects the deadline onto a duration remaining as of now: None
// maps to (0, false) meaning "no timeout, block indefinitely"; a set
// deadline maps to (max(0, at-now), true).
func (d Deadline) ToTimeout(now Clock) (time.Duration, bool) {
	if !d.set {
		return 0, false
	}
	remaining := d.at.Sub(now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Expired reports whether the deadline has a cap and that cap has already
// passed (ToTimeout would return 0).
func (d Deadline) Expired(now Clock) bool {
	remaining, ok := d.ToTimeout(now)
	return ok && remaining == 0
}

// At returns the absolute instant and whether the deadline is set at all.
func (d Deadline) At() (time.Time, bool) {
	return d.at, d.set
}

// deadlineSetter is satisfied by any connection that can have a scoped
// deadline attached, e.g. db.Connection.
type deadlineSetter interface {
	SetDeadline(d Deadline) Deadline
}

// WithConnection attaches d to conn for the duration of fn, then restores
// whatever deadline conn had before, even if fn panics. This is the
// "scoped deadline" shape SPEC_FULL §9 asks for in place of
// `_bolt_socket.py`'s per-call socket timeout: it has no byte-level socket
// knowledge, only the attach/restore bookkeeping every call site (pool
// liveness probes, router ROUTE requests) needs around a Connection.
func WithConnection(conn deadlineSetter, d Deadline, fn func() error) error {
	previous := conn.SetDeadline(d)
	defer conn.SetDeadline(previous)
	return fn()
}
