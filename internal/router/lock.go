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

package router

import (
	"context"
	"time"
)

// deadlineMutex is a mutex whose Lock can give up after a bounded wait,
// which sync.Mutex cannot do. It backs the router's refresh_lock (§5): a
// reentrant lock in the source driver, but this module never needs
// reentrancy since every refresh_lock-holding call path is a single
// non-recursive function (see router.go's lock-then-defer-unlock usage).
type deadlineMutex chan struct{}

func newDeadlineMutex() deadlineMutex {
	m := make(deadlineMutex, 1)
	m <- struct{}{}
	return m
}

// TryLock blocks until the lock is free or timeout elapses (timeout <= 0
// means block indefinitely), returning false on timeout.
func (m deadlineMutex) TryLock(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-m:
			return true
		case <-ctx.Done():
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m deadlineMutex) Unlock() {
	m <- struct{}{}
}
