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

package deadline

import (
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestFromTimeoutNegative(t *testing.T) {
	_, err := FromTimeout(-time.Second, fixedClock(time.Now()))
	if !errors.Is(err, ErrNegativeTimeout) {
		t.Fatalf("expected ErrNegativeTimeout, got %v", err)
	}
}

func TestFromTimeoutZeroIsSetButExpired(t *testing.T) {
	now := time.Now()
	d, err := FromTimeout(0, fixedClock(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsSet(d) {
		t.Fatal("a zero timeout must still be a set deadline, not None")
	}
	if !d.Expired(fixedClock(now)) {
		t.Fatal("a zero timeout deadline must already be expired at the instant it was created")
	}
}

func TestNoneIsNotSet(t *testing.T) {
	if IsSet(None) {
		t.Fatal("None must not be set")
	}
	if None.Expired(fixedClock(time.Now())) {
		t.Fatal("None never expires")
	}
	timeout, ok := None.ToTimeout(fixedClock(time.Now()))
	if ok || timeout != 0 {
		t.Fatalf("None.ToTimeout = (%v, %v), want (0, false)", timeout, ok)
	}
}

func TestMergeIdentity(t *testing.T) {
	now := time.Now()
	d, _ := FromTimeout(time.Second, fixedClock(now))
	if got := Merge(None, d); got != d {
		t.Fatalf("Merge(None, d) = %v, want %v", got, d)
	}
	if got := Merge(d, None); got != d {
		t.Fatalf("Merge(d, None) = %v, want %v", got, d)
	}
	if got := Merge(None, None); got != None {
		t.Fatalf("Merge(None, None) = %v, want None", got)
	}
}

func TestMergePicksMoreRestrictive(t *testing.T) {
	now := time.Now()
	soon, _ := FromTimeout(time.Second, fixedClock(now))
	later, _ := FromTimeout(time.Hour, fixedClock(now))
	if got := Merge(soon, later); got != soon {
		t.Fatalf("Merge(soon, later) = %v, want soon (%v)", got, soon)
	}
	if got := Merge(later, soon); got != soon {
		t.Fatalf("Merge(later, soon) = %v, want soon (%v)", got, soon)
	}
}

func TestMergeTimeoutsTreatsNonPositiveAsUnset(t *testing.T) {
	now := time.Now()
	clock := fixedClock(now)
	d := MergeTimeouts(clock, 0, -time.Second, 5*time.Second)
	timeout, ok := d.ToTimeout(clock)
	if !ok {
		t.Fatal("expected a set deadline from the one positive timeout")
	}
	if timeout != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", timeout)
	}
}

func TestMergeTimeoutsAllNonPositiveIsNone(t *testing.T) {
	d := MergeTimeouts(fixedClock(time.Now()), 0, -time.Second)
	if d != None {
		t.Fatalf("expected None, got %v", d)
	}
}

func TestToTimeoutClampsToZero(t *testing.T) {
	now := time.Now()
	past := FromDeadline(now.Add(-time.Minute))
	timeout, ok := past.ToTimeout(fixedClock(now))
	if !ok {
		t.Fatal("expected a set deadline")
	}
	if timeout != 0 {
		t.Fatalf("timeout = %v, want 0 (clamped)", timeout)
	}
	if !past.Expired(fixedClock(now)) {
		t.Fatal("a deadline in the past must report Expired")
	}
}

func TestAt(t *testing.T) {
	if _, ok := None.At(); ok {
		t.Fatal("None.At() must report unset")
	}
	at := time.Now().Add(time.Minute)
	d := FromDeadline(at)
	got, ok := d.At()
	if !ok || !got.Equal(at) {
		t.Fatalf("At() = (%v, %v), want (%v, true)", got, ok, at)
	}
}

type fakeConn struct {
	current Deadline
	calls   []Deadline
}

func (c *fakeConn) SetDeadline(d Deadline) Deadline {
	previous := c.current
	c.current = d
	c.calls = append(c.calls, d)
	return previous
}

func TestWithConnectionRestoresPreviousDeadline(t *testing.T) {
	conn := &fakeConn{current: None}
	scoped, _ := FromTimeout(time.Second, fixedClock(time.Now()))

	var observedDuring Deadline
	err := WithConnection(conn, scoped, func() error {
		observedDuring = conn.current
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observedDuring != scoped {
		t.Fatalf("deadline during fn = %v, want %v", observedDuring, scoped)
	}
	if conn.current != None {
		t.Fatalf("deadline after WithConnection = %v, want restored None", conn.current)
	}
}

func TestWithConnectionRestoresOnError(t *testing.T) {
	conn := &fakeConn{current: None}
	scoped, _ := FromTimeout(time.Second, fixedClock(time.Now()))
	boom := errors.New("boom")

	err := WithConnection(conn, scoped, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if conn.current != None {
		t.Fatalf("deadline after failing fn = %v, want restored None", conn.current)
	}
}

func TestWithConnectionRestoresOnPanic(t *testing.T) {
	conn := &fakeConn{current: None}
	scoped, _ := FromTimeout(time.Second, fixedClock(time.Now()))

	func() {
		defer func() {
			recover()
		}()
		_ = WithConnection(conn, scoped, func() error {
			panic("boom")
		})
	}()

	if conn.current != None {
		t.Fatalf("deadline after panicking fn = %v, want restored None", conn.current)
	}
}

func TestWithConnectionNests(t *testing.T) {
	conn := &fakeConn{current: None}
	outer, _ := FromTimeout(time.Minute, fixedClock(time.Now()))
	inner, _ := FromTimeout(time.Second, fixedClock(time.Now()))

	err := WithConnection(conn, outer, func() error {
		if conn.current != outer {
			t.Fatalf("expected outer deadline, got %v", conn.current)
		}
		err := WithConnection(conn, inner, func() error {
			if conn.current != inner {
				t.Fatalf("expected inner deadline, got %v", conn.current)
			}
			return nil
		})
		if conn.current != outer {
			t.Fatalf("expected outer deadline restored after inner scope, got %v", conn.current)
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.current != None {
		t.Fatalf("expected None restored at top level, got %v", conn.current)
	}
}
