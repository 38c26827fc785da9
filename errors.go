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

package graphdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/pool"
	"github.com/boltgraph/graphdb-go-driver/internal/router"
)

// UsageError means the caller misused the API itself (a second concurrent
// transaction on one session, a negative timeout, running after Close) —
// never retryable and never the server's fault.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// ConnectivityError wraps a failure to reach or use a server (connection
// acquisition, routing-table discovery, or a call on the connection) that
// has no more specific public error type.
type ConnectivityError struct {
	Message string
	Cause   error
}

func (e *ConnectivityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// IsRetryable follows the wrapped cause, so a retryable failure met while
// acquiring a connection stays retryable for the managed transaction runner.
func (e *ConnectivityError) IsRetryable() bool { return db.IsRetryable(e.Cause) }

// TransactionExecutionLimit is raised by ExecuteRead/ExecuteWrite when the
// retry budget (C8) is exhausted after one or more retryable failures. Errs
// holds every attempt's error, oldest first.
type TransactionExecutionLimit struct {
	Errs []error
}

func newTransactionExecutionLimit(errs []error) *TransactionExecutionLimit {
	return &TransactionExecutionLimit{Errs: append([]error(nil), errs...)}
}

func (e *TransactionExecutionLimit) Error() string {
	if len(e.Errs) == 0 {
		return "transaction retry budget exhausted"
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("transaction retry budget exhausted after %d attempt(s), last: %s",
		len(e.Errs), strings.Join(msgs, "; "))
}

func (e *TransactionExecutionLimit) Unwrap() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e.Errs[len(e.Errs)-1]
}

// PoolTimeoutError is raised when a connection could not be acquired before
// ConnectionAcquisitionTimeout elapsed, whether waiting on a full pool or
// waiting on the routing table's refresh_lock. It wraps whichever of
// pool.TimeoutError or router.RoutingRefreshTimeoutError actually fired, so
// callers can still unwrap down to the internal cause if they need to.
type PoolTimeoutError struct {
	Cause error
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring a connection: %v", e.Cause)
}

func (e *PoolTimeoutError) Unwrap() error { return e.Cause }

// IsRetryable reports true: a pool exhausted at one moment may have capacity
// a moment later, so the managed transaction runner (C8) is allowed to try
// again within its own retry budget.
func (e *PoolTimeoutError) IsRetryable() bool { return true }

// DeadlineExceededError means the caller's own ctx, or a TransactionConfig
// timeout, expired before the operation completed. Unlike PoolTimeoutError
// this is never retried: the caller's budget is what ran out, not a
// transient cluster condition.
type DeadlineExceededError struct {
	Cause error
}

func (e *DeadlineExceededError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("deadline exceeded: %v", e.Cause)
	}
	return "deadline exceeded"
}

func (e *DeadlineExceededError) Unwrap() error { return e.Cause }

func (e *DeadlineExceededError) IsRetryable() bool { return false }

// isRetryable is the package-level predicate onAttemptFailure consults
// before evicting a writer (the retry loop itself, internal/retry, classifies
// with internal/db.IsRetryable). It is layered on top of
// internal/db.IsRetryable: context deadline and
// cancellation, and this package's own DeadlineExceededError, are always
// classified as non-retryable regardless of what the underlying error claims,
// since retrying after the caller's own budget ran out would just burn the
// remainder of it on attempts the caller no longer wants.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var de *DeadlineExceededError
	if errors.As(err, &de) {
		return false
	}
	if r, ok := err.(interface{ IsRetryable() bool }); ok {
		return r.IsRetryable()
	}
	return db.IsRetryable(err)
}

// wrapError normalizes an internal/db (or internal/pool, internal/router)
// error into one of this package's public error types, leaving anything
// already public (or already one of ours) untouched.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *UsageError, *ConnectivityError, *TransactionExecutionLimit, *PoolTimeoutError, *DeadlineExceededError:
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DeadlineExceededError{Cause: err}
	}
	switch err.(type) {
	case *pool.TimeoutError, *router.RoutingRefreshTimeoutError:
		return &PoolTimeoutError{Cause: err}
	}
	return &ConnectivityError{Message: "unable to complete operation", Cause: err}
}
