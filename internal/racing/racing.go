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

// Package racing provides one primitive: run a blocking call on its own
// goroutine and give up on it the moment a context is done, without leaking
// the goroutine if the call eventually finishes on its own. The pool uses it
// for the Reset of its liveness probe, so an expired deadline is not
// silently extended there (§5); other blocking calls in this driver do not
// go through it.
package racing

import "context"

// Go runs fn on a new goroutine and returns its error, unless ctx is done
// first, in which case ctx.Err() is returned immediately. fn's goroutine is
// never killed — if it later completes, its result is simply discarded —
// callers must ensure fn itself respects cancellation where it can (e.g. a
// net.Conn with a deadline set) so the leaked goroutine is short-lived.
func Go(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
