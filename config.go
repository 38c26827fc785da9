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
	"math"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/pool"
)

// AccessMode selects whether a session or transaction routes to readers or
// writers. It mirrors internal/db.AccessMode one-for-one so callers never
// import an internal package.
type AccessMode int

const (
	AccessModeRead AccessMode = iota
	AccessModeWrite
)

func (m AccessMode) internal() db.AccessMode {
	if m == AccessModeRead {
		return db.ReadMode
	}
	return db.WriteMode
}

// PoolConfig bundles every knob spec.md §6 assigns to the connection pool.
// A zero value is usable: NewPoolConfig turns a MaxConnectionPoolSize of 0
// into the default of 100. pool.Unbounded (-1) means no per-address cap;
// any other negative size is rejected.
//
// Three of these knobs cap distinct, independently-billed stages of a
// session acquiring a connection (§6), and are deliberately not allowed to
// collapse onto the same value:
//   - SessionConnectionTimeout bounds the whole of Session.getConnection: a
//     routing table refresh (if one is due) plus the subsequent borrow.
//   - ConnectionAcquisitionTimeout bounds only the borrow stage, and its
//     clock starts after any refresh above already finished — refresh time
//     is never billed against it.
//   - UpdateRoutingTableTimeout caps a single routing table refresh attempt
//     on its own, independently of whatever SessionConnectionTimeout budget
//     the caller is already carrying.
type PoolConfig struct {
	MaxConnectionPoolSize int
	MaxConnectionLifetime time.Duration
	ConnectionTimeout     time.Duration
	LivenessCheckTimeout  time.Duration

	SessionConnectionTimeout     time.Duration
	ConnectionAcquisitionTimeout time.Duration
	UpdateRoutingTableTimeout    time.Duration
}

// NewPoolConfig applies defaults and validates cfg, the way the teacher's
// Config option funcs and `_conf.py`'s PoolConfig.consume do: reject
// nonsensical combinations instead of silently coercing them.
func NewPoolConfig(cfg PoolConfig) (PoolConfig, error) {
	if cfg.MaxConnectionPoolSize == 0 {
		cfg.MaxConnectionPoolSize = 100
	}
	if cfg.MaxConnectionPoolSize < 0 && cfg.MaxConnectionPoolSize != pool.Unbounded {
		return cfg, &UsageError{Message: "MaxConnectionPoolSize must be positive or pool.Unbounded"}
	}
	if cfg.ConnectionAcquisitionTimeout < 0 {
		return cfg, &UsageError{Message: "ConnectionAcquisitionTimeout must not be negative"}
	}
	if cfg.SessionConnectionTimeout < 0 {
		return cfg, &UsageError{Message: "SessionConnectionTimeout must not be negative"}
	}
	if cfg.UpdateRoutingTableTimeout < 0 {
		return cfg, &UsageError{Message: "UpdateRoutingTableTimeout must not be negative"}
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	return cfg, nil
}

// RetryConfig bundles the managed transaction runner's backoff parameters
// (C8, spec.md §4.5). See internal/retry.Config for the field this maps to.
type RetryConfig struct {
	MaxTransactionRetryTime time.Duration
	InitialRetryDelay       time.Duration
	RetryDelayMultiplier    float64
	RetryDelayJitter        float64
}

// DefaultRetryConfig mirrors internal/retry.DefaultConfig's values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTransactionRetryTime: 30 * time.Second,
		InitialRetryDelay:       time.Second,
		RetryDelayMultiplier:    2.0,
		RetryDelayJitter:        0.2,
	}
}

// RoutingConfig bundles the router's knobs: how long a stale table is kept
// around before being purged. The initial discovery endpoints are passed to
// NewDriver directly, not through this struct.
type RoutingConfig struct {
	RoutingTablePurgeDelay time.Duration
}

// Config is the top-level, immutable configuration a Driver is built with.
type Config struct {
	Pool    PoolConfig
	Retry   RetryConfig
	Routing RoutingConfig
}

// withDefaults fills in any zero-valued sub-config with its documented
// default, the way the teacher's `defaultConfig()` seeds a *Config before
// option funcs run. A zero RetryConfig in particular would otherwise leave
// RetryDelayMultiplier at 0, which collapses exponential backoff into a
// zero-length delay after the first retry.
func (c Config) withDefaults() (Config, error) {
	pc, err := NewPoolConfig(c.Pool)
	if err != nil {
		return c, err
	}
	c.Pool = pc
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
	return c, nil
}

// FetchDefault lets the driver decide the result fetch size (a session maps
// it to FetchAll); FetchAll turns off batching entirely. The session's fetch
// size is carried in each db.Command even though result iteration itself is
// out of scope (SPEC_FULL §10).
const (
	FetchDefault = 0
	FetchAll     = -1
)

// SessionConfig configures one NewSession call.
type SessionConfig struct {
	AccessMode       AccessMode
	Bookmarks        Bookmarks
	DatabaseName     string
	ImpersonatedUser string
	FetchSize        int
}

// TransactionConfig configures one explicit, auto-commit, or managed
// transaction. Timeout's sentinel "unset" value is math.MinInt64, matching
// the teacher's use of math.MinInt so that an explicit zero timeout (meaning
// "no timeout", per the Bolt protocol) can be told apart from "not set".
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

const unsetTimeout = time.Duration(math.MinInt64)

func defaultTransactionConfig() TransactionConfig {
	return TransactionConfig{Timeout: unsetTimeout}
}

func validateTransactionConfig(cfg TransactionConfig) error {
	if cfg.Timeout != unsetTimeout && cfg.Timeout < 0 {
		return &UsageError{Message: "transaction timeout must not be negative"}
	}
	return nil
}
