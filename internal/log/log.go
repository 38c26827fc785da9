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

// Package log names the structured logging collaborator every other
// package depends on. It carries no semantics of its own (per spec.md §1,
// logging is an external collaborator) but, per the ambient-stack rule, a
// real default implementation backed by zerolog is provided rather than a
// hand-rolled stdlib logger.
package log

import "github.com/google/uuid"

// Name identifies which subsystem emitted a log line, mirroring the
// teacher's neo4j/log.Session/Pool/Router constants.
type Name string

const (
	Pool    Name = "pool"
	Router  Name = "router"
	Session Name = "session"
	Retry   Name = "retry"
	Driver  Name = "driver"
)

// Logger is the structured debug/warn/error sink every component accepts
// at construction time. Implementations must be safe for concurrent use.
type Logger interface {
	Error(name Name, id string, err error)
	Warnf(name Name, id string, msg string, args ...any)
	Infof(name Name, id string, msg string, args ...any)
	Debugf(name Name, id string, msg string, args ...any)
}

// NewID returns a short correlation id for logging, one per session/pool/
// router instance, e.g. "sess-3e9c1f2a". The teacher hand-rolls a counter
// for this; this module instead spends the pack's google/uuid dependency on
// it, which is the same call site with a globally unique id instead of a
// process-local counter.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Nop is a Logger that discards everything. Used as the zero-config default
// so construction never has to special-case a nil logger at every call
// site, the way the teacher's Config always carries a non-nil log.Logger.
type nop struct{}

func (nop) Error(Name, string, error)           {}
func (nop) Warnf(Name, string, string, ...any)  {}
func (nop) Infof(Name, string, string, ...any)  {}
func (nop) Debugf(Name, string, string, ...any) {}

func Nop() Logger { return nop{} }
