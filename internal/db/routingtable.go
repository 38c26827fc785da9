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

import (
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
)

// RoutingTable is one database's cluster view: the three role sets, their
// TTL, and enough bookkeeping to decide freshness and purge eligibility
// (§3). It carries no lock of its own — the router owns synchronization.
type RoutingTable struct {
	Database string

	Routers []address.Address
	Readers []address.Address
	Writers []address.Address

	TTL            time.Duration
	CreatedAt      time.Time
	InitialRouters []address.Address

	// InitializedWithoutWriters records that the most recent successful
	// update returned an empty writer set — a legitimate, transient
	// cluster state (e.g. mid-election), not an error. The router
	// consults this to decide whether to special-case the next refresh's
	// router-ordering policy.
	InitializedWithoutWriters bool
}

// NewRoutingTable seeds a table for database from the driver's initial
// router addresses, expired (TTL already elapsed) so the very first access
// always triggers a real discovery.
func NewRoutingTable(database string, initialRouters []address.Address) *RoutingTable {
	return &RoutingTable{
		Database:       database,
		Routers:        append([]address.Address(nil), initialRouters...),
		InitialRouters: append([]address.Address(nil), initialRouters...),
		CreatedAt:      time.Time{},
	}
}

// Fresh reports whether the table can still be used without a rediscovery:
// it has not outlived its TTL, and the side relevant to readonly is
// non-empty.
func (t *RoutingTable) Fresh(readonly bool, now func() time.Time) bool {
	if now().After(t.CreatedAt.Add(t.TTL)) {
		return false
	}
	if readonly {
		return len(t.Readers) > 0
	}
	return len(t.Writers) > 0
}

// ShouldPurge reports whether the table is old enough (TTL plus an extra
// grace period) to be dropped from the router's per-database map entirely.
// The default database's table is never purged, since the router always
// needs somewhere to seed a fresh lookup for it.
func (t *RoutingTable) ShouldPurge(purgeDelay time.Duration, now func() time.Time) bool {
	if t.Database == DefaultDatabase {
		return false
	}
	return now().After(t.CreatedAt.Add(t.TTL).Add(purgeDelay))
}

// Update replaces the routers/readers/writers/TTL with a newly fetched
// view, per §3's "after a successful update, all three sets are the ones
// reported by the server" invariant. The database name may be replaced too
// (home-database discovery can report a different canonical name than the
// one requested).
func (t *RoutingTable) Update(fresh *RoutingTable, now func() time.Time) {
	if fresh.Database != "" {
		t.Database = fresh.Database
	}
	t.Routers = fresh.Routers
	t.Readers = fresh.Readers
	t.Writers = fresh.Writers
	t.TTL = fresh.TTL
	t.CreatedAt = now()
	t.InitializedWithoutWriters = len(fresh.Writers) == 0
}

// RemoveAddress drops addr from every role set. Used by on_write_failure
// (writers only, by the caller filtering first) and by deactivate (all
// three sets).
func (t *RoutingTable) RemoveAddress(addr address.Address, fromRouters, fromReaders, fromWriters bool) {
	if fromRouters {
		t.Routers = removeAddr(t.Routers, addr)
	}
	if fromReaders {
		t.Readers = removeAddr(t.Readers, addr)
	}
	if fromWriters {
		t.Writers = removeAddr(t.Writers, addr)
	}
}

func removeAddr(set []address.Address, addr address.Address) []address.Address {
	out := set[:0:0]
	for _, a := range set {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}

// RoleSet selects the role set relevant to mode.
func (t *RoutingTable) RoleSet(mode AccessMode) []address.Address {
	if mode == ReadMode {
		return t.Readers
	}
	return t.Writers
}
