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

package db

// ServiceUnavailableError signals that a server (or every server tried)
// could not be reached or refused the connection outright.
type ServiceUnavailableError struct {
	Message string
}

func (e *ServiceUnavailableError) Error() string { return e.Message }

// IsRetryable marks ServiceUnavailableError as retryable by the managed
// transaction runner (C8).
func (e *ServiceUnavailableError) IsRetryable() bool { return true }

// SessionExpiredError signals that the server a session was bound to can no
// longer serve the requested access mode (e.g. a former writer lost
// leadership, or no reader/writer could be selected at all).
type SessionExpiredError struct {
	Message string
}

func (e *SessionExpiredError) Error() string { return e.Message }

func (e *SessionExpiredError) IsRetryable() bool { return true }

// NeoError represents a server-reported failure, classified by the Bolt
// protocol collaborator into a gopher-friendly code and a pair of flags
// this core consults: Retryable (transient, C8 should retry) and
// FatalDuringDiscovery (the routing request itself was malformed or
// unauthorized — rediscovery must abort immediately rather than try the
// next router).
type NeoError struct {
	Code    string
	Message string

	Retryable            bool
	FatalDuringDiscovery bool
}

func (e *NeoError) Error() string { return e.Code + ": " + e.Message }

func (e *NeoError) IsRetryable() bool { return e.Retryable }

// retryable is satisfied by every error kind the managed transaction runner
// (C8) is allowed to retry.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable classifies any error produced by this core (or passed
// through from a collaborator) for the retry loop. Unrecognized errors —
// including client misuse and configuration errors — are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return false
}

// FatalDuringDiscovery reports whether err must abort routing-table
// rediscovery immediately instead of rotating to the next router.
func FatalDuringDiscovery(err error) bool {
	ne, ok := err.(*NeoError)
	return ok && ne.FatalDuringDiscovery
}
