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
	"strings"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/deadline"
	"github.com/boltgraph/graphdb-go-driver/internal/log"
	"github.com/boltgraph/graphdb-go-driver/internal/metrics"
	"github.com/boltgraph/graphdb-go-driver/internal/retry"
	"github.com/boltgraph/graphdb-go-driver/internal/router"
)

// TransactionWork is a unit of work run once inside an explicit transaction.
type TransactionWork func(tx ExplicitTransaction) (any, error)

// ManagedTransactionWork is a unit of work ExecuteRead/ExecuteWrite may run
// more than once, under C8's retry loop.
type ManagedTransactionWork func(tx ManagedTransaction) (any, error)

// Session is a logical connection to a server: not tied to any one physical
// connection until work is actually run, single-threaded (at most one
// pending transaction or auto-commit result at a time), and the unit bookmarks
// are scoped to.
type Session interface {
	LastBookmarks() Bookmarks
	BeginTransaction(ctx context.Context, configurers ...func(*TransactionConfig)) (ExplicitTransaction, error)
	ExecuteRead(ctx context.Context, work ManagedTransactionWork, configurers ...func(*TransactionConfig)) (any, error)
	ExecuteWrite(ctx context.Context, work ManagedTransactionWork, configurers ...func(*TransactionConfig)) (any, error)
	Run(ctx context.Context, query string, params map[string]any, configurers ...func(*TransactionConfig)) (Result, error)
	Close(ctx context.Context) error
}

type session struct {
	config           *Config
	defaultMode      db.AccessMode
	bookmarks        []string
	databaseName     string
	impersonatedUser string
	resolveHomeDB    bool

	router *router.Router

	explicitTx   *explicitTransaction
	autocommitTx *autocommitTransaction

	// lastServerAddress remembers which server the most recently acquired
	// connection belonged to, so a retry after a failure can tell the
	// router which address misbehaved before asking for a new one.
	lastServerAddress string

	sleep     func(d time.Duration)
	now       func() time.Time
	logID     string
	log       log.Logger
	fetchSize int
	m         *metrics.Registry
}

func newSession(config *Config, sessConfig SessionConfig, r *router.Router, logger log.Logger, m *metrics.Registry) *session {
	if logger == nil {
		logger = log.Nop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	logID := log.NewID("sess")
	logger.Debugf(log.Session, logID, "session created")

	fs := sessConfig.FetchSize
	if fs == FetchDefault {
		fs = FetchAll
	}

	return &session{
		config:           config,
		router:           r,
		defaultMode:      sessConfig.AccessMode.internal(),
		bookmarks:        cleanupBookmarks(sessConfig.Bookmarks),
		databaseName:     sessConfig.DatabaseName,
		impersonatedUser: sessConfig.ImpersonatedUser,
		resolveHomeDB:    sessConfig.DatabaseName == "",
		sleep:            time.Sleep,
		now:              time.Now,
		log:              logger,
		logID:            logID,
		fetchSize:        fs,
		m:                m,
	}
}

func (s *session) LastBookmarks() Bookmarks {
	if s.autocommitTx != nil {
		s.retrieveBookmarks(s.autocommitTx.conn)
	}
	return s.bookmarks
}

func (s *session) resolveHomeDatabase(ctx context.Context) error {
	if !s.resolveHomeDB {
		return nil
	}
	dl := deadline.None
	if s.config.Pool.SessionConnectionTimeout > 0 {
		var err error
		dl, err = deadline.FromTimeout(s.config.Pool.SessionConnectionTimeout, s.now)
		if err != nil {
			return err
		}
	}
	name, err := s.router.ResolveHomeDatabase(ctx, s.impersonatedUser, s.bookmarks, dl)
	if err != nil {
		return err
	}
	s.log.Debugf(log.Session, s.logID, "resolved home database to %q", name)
	s.databaseName = name
	s.resolveHomeDB = false
	return nil
}

func (s *session) getConnection(ctx context.Context, mode db.AccessMode) (db.Connection, error) {
	if err := s.resolveHomeDatabase(ctx); err != nil {
		return nil, wrapError(err)
	}
	// §4.4: the ordinary session connect path never runs the idle
	// liveness check (0), and is billed against SessionConnectionTimeout
	// (routing refresh + acquire combined), not ConnectionAcquisitionTimeout
	// (acquire alone, billed only after a fresh routing table is in hand).
	conn, err := s.router.Acquire(ctx, mode, s.databaseName, s.impersonatedUser, s.bookmarks, s.config.Pool.SessionConnectionTimeout, 0)
	if err != nil {
		return nil, wrapError(err)
	}
	if info := conn.ServerInfo(); info != nil {
		s.lastServerAddress = info.Address()
	}
	return conn, nil
}

func (s *session) retrieveBookmarks(conn db.Connection) {
	if conn == nil {
		return
	}
	if bookmark := conn.Bookmark(); bookmark != "" {
		s.bookmarks = []string{bookmark}
	}
}

func (s *session) BeginTransaction(ctx context.Context, configurers ...func(*TransactionConfig)) (ExplicitTransaction, error) {
	if s.explicitTx != nil {
		err := &UsageError{Message: "session already has a pending transaction"}
		s.log.Error(log.Session, s.logID, err)
		return nil, err
	}
	if s.autocommitTx != nil {
		s.autocommitTx.done(ctx)
	}

	cfg := defaultTransactionConfig()
	for _, c := range configurers {
		c(&cfg)
	}
	if err := validateTransactionConfig(cfg); err != nil {
		return nil, err
	}

	conn, err := s.getConnection(ctx, s.defaultMode)
	if err != nil {
		return nil, err
	}

	txHandle, err := conn.TxBegin(ctx, db.TxConfig{
		Mode:             s.defaultMode,
		Bookmarks:        s.bookmarks,
		Timeout:          txTimeout(cfg),
		Metadata:         cfg.Metadata,
		ImpersonatedUser: s.impersonatedUser,
		DatabaseName:     s.databaseName,
	})
	if err != nil {
		s.router.Release(ctx, conn)
		return nil, wrapError(err)
	}

	s.explicitTx = &explicitTransaction{
		conn:      conn,
		fetchSize: s.fetchSize,
		txHandle:  txHandle,
		onClosed: func() {
			s.retrieveBookmarks(conn)
			s.router.Release(ctx, conn)
			s.explicitTx = nil
		},
	}
	return s.explicitTx, nil
}

func (s *session) ExecuteRead(ctx context.Context, work ManagedTransactionWork, configurers ...func(*TransactionConfig)) (any, error) {
	return s.runRetriable(ctx, db.ReadMode, work, configurers...)
}

func (s *session) ExecuteWrite(ctx context.Context, work ManagedTransactionWork, configurers ...func(*TransactionConfig)) (any, error) {
	return s.runRetriable(ctx, db.WriteMode, work, configurers...)
}

func (s *session) runRetriable(ctx context.Context, mode db.AccessMode, work ManagedTransactionWork, configurers ...func(*TransactionConfig)) (any, error) {
	if s.explicitTx != nil {
		return nil, &UsageError{Message: "session already has a pending transaction"}
	}
	if s.autocommitTx != nil {
		s.autocommitTx.done(ctx)
	}

	cfg := defaultTransactionConfig()
	for _, c := range configurers {
		c(&cfg)
	}
	if err := validateTransactionConfig(cfg); err != nil {
		return nil, err
	}

	state := retry.NewState(retry.Config{
		MaxRetryTime:    s.config.Retry.MaxTransactionRetryTime,
		InitialDelay:    s.config.Retry.InitialRetryDelay,
		DelayMultiplier: s.config.Retry.RetryDelayMultiplier,
		DelayJitter:     s.config.Retry.RetryDelayJitter,
	}, s.log, s.logID, s.now, s.sleep)

	for state.Continue() {
		state.OnAttemptStart()
		s.m.RetryAttempts.Inc()
		tryAgain, result, err := s.executeTransactionFunction(ctx, mode, cfg, work)
		if !tryAgain {
			return result, err
		}
		if !state.OnFailure(err) {
			break
		}
	}

	if state.LastWasRetryable() {
		s.m.RetryGivenUp.Inc()
		err := newTransactionExecutionLimit(state.Errs())
		s.log.Error(log.Session, s.logID, err)
		return nil, err
	}
	err := wrapError(state.LastErr())
	switch err.(type) {
	case *UsageError, *ConnectivityError:
		s.log.Error(log.Session, s.logID, err)
	}
	return nil, err
}

func (s *session) executeTransactionFunction(ctx context.Context, mode db.AccessMode, cfg TransactionConfig, work ManagedTransactionWork) (tryAgain bool, _ any, _ error) {
	conn, err := s.getConnection(ctx, mode)
	if err != nil {
		return true, nil, err
	}
	defer s.router.Release(ctx, conn)

	txHandle, err := conn.TxBegin(ctx, db.TxConfig{
		Mode:             mode,
		Bookmarks:        s.bookmarks,
		Timeout:          txTimeout(cfg),
		Metadata:         cfg.Metadata,
		ImpersonatedUser: s.impersonatedUser,
		DatabaseName:     s.databaseName,
	})
	if err != nil {
		s.onAttemptFailure(ctx, mode, err)
		return true, nil, err
	}

	tx := &managedTransaction{conn: conn, fetchSize: s.fetchSize, txHandle: txHandle}
	x, err := work(tx)
	if err != nil {
		_ = conn.TxRollback(ctx, txHandle)
		s.onAttemptFailure(ctx, mode, err)
		return true, nil, err
	}

	if err := conn.TxCommit(ctx, txHandle); err != nil {
		s.onAttemptFailure(ctx, mode, err)
		return true, nil, err
	}

	s.retrieveBookmarks(conn)
	return false, x, nil
}

// onAttemptFailure tells the router about a write server that rejected a
// write, so selectAddress stops offering it before the next attempt, per
// spec.md §4.3's on_write_failure.
func (s *session) onAttemptFailure(ctx context.Context, mode db.AccessMode, err error) {
	if mode != db.WriteMode || s.lastServerAddress == "" {
		return
	}
	if !isRetryable(err) {
		return
	}
	s.router.OnWriteFailure(ctx, parseServerAddress(s.lastServerAddress))
}

func parseServerAddress(s string) address.Address {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return address.New(s, "")
	}
	return address.New(s[:i], s[i+1:])
}

func (s *session) Run(ctx context.Context, query string, params map[string]any, configurers ...func(*TransactionConfig)) (Result, error) {
	if query == "" {
		err := &UsageError{Message: "cannot run an empty query"}
		s.log.Error(log.Session, s.logID, err)
		return nil, err
	}
	if s.explicitTx != nil {
		err := &UsageError{Message: "cannot run an auto-commit query while an explicit transaction is open"}
		s.log.Error(log.Session, s.logID, err)
		return nil, err
	}
	if s.autocommitTx != nil {
		s.autocommitTx.done(ctx)
	}

	cfg := defaultTransactionConfig()
	for _, c := range configurers {
		c(&cfg)
	}
	if err := validateTransactionConfig(cfg); err != nil {
		return nil, err
	}

	conn, err := s.getConnection(ctx, s.defaultMode)
	if err != nil {
		return nil, err
	}

	handle, err := conn.Run(ctx, db.Command{Text: query, Params: params, FetchSize: s.fetchSize}, db.TxConfig{
		Mode:             s.defaultMode,
		Bookmarks:        s.bookmarks,
		Timeout:          txTimeout(cfg),
		Metadata:         cfg.Metadata,
		ImpersonatedUser: s.impersonatedUser,
		DatabaseName:     s.databaseName,
	})
	if err != nil {
		s.router.Release(ctx, conn)
		return nil, wrapError(err)
	}

	s.autocommitTx = &autocommitTransaction{
		conn: conn,
		res:  newResult(ctx, handle),
		onClosed: func() {
			s.retrieveBookmarks(conn)
			s.router.Release(ctx, conn)
			s.autocommitTx = nil
		},
	}
	return s.autocommitTx.res, nil
}

func (s *session) Close(ctx context.Context) error {
	var txErr error
	if s.explicitTx != nil {
		txErr = s.explicitTx.Close(ctx)
	}
	if s.autocommitTx != nil {
		s.autocommitTx.discard(ctx)
	}
	s.log.Debugf(log.Session, s.logID, "session closed")
	return txErr
}

func txTimeout(cfg TransactionConfig) time.Duration {
	if cfg.Timeout == unsetTimeout {
		return 0
	}
	return cfg.Timeout
}

