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
	"testing"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewRoutingTableStartsExpired(t *testing.T) {
	routers := []address.Address{address.New("r1", "7687")}
	rt := NewRoutingTable("", routers)
	if rt.Fresh(true, fixedNow(time.Now())) {
		t.Fatal("a freshly seeded table must not be fresh")
	}
	if rt.Fresh(false, fixedNow(time.Now())) {
		t.Fatal("a freshly seeded table must not be fresh for writes either")
	}
}

func TestFreshRequiresNonEmptyRoleSet(t *testing.T) {
	now := time.Now()
	rt := &RoutingTable{
		Readers:   nil,
		Writers:   []address.Address{address.New("w1", "7687")},
		TTL:       time.Minute,
		CreatedAt: now,
	}
	if rt.Fresh(true, fixedNow(now)) {
		t.Fatal("table with no readers must not be fresh for reads")
	}
	if !rt.Fresh(false, fixedNow(now)) {
		t.Fatal("table with writers must be fresh for writes")
	}
}

func TestFreshExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	rt := &RoutingTable{
		Readers:   []address.Address{address.New("a", "7687")},
		Writers:   []address.Address{address.New("a", "7687")},
		TTL:       time.Minute,
		CreatedAt: now,
	}
	if !rt.Fresh(true, fixedNow(now.Add(30*time.Second))) {
		t.Fatal("table should still be fresh before TTL elapses")
	}
	if rt.Fresh(true, fixedNow(now.Add(2*time.Minute))) {
		t.Fatal("table should not be fresh after TTL elapses")
	}
}

func TestShouldPurgeNeverTrueForDefaultDatabase(t *testing.T) {
	now := time.Now()
	rt := &RoutingTable{
		Database:  DefaultDatabase,
		TTL:       time.Minute,
		CreatedAt: now.Add(-24 * time.Hour),
	}
	if rt.ShouldPurge(time.Minute, fixedNow(now)) {
		t.Fatal("the default database's table must never be purged")
	}
}

func TestShouldPurgeNamedDatabaseAfterTTLPlusGrace(t *testing.T) {
	now := time.Now()
	rt := &RoutingTable{
		Database:  "neo4j",
		TTL:       time.Minute,
		CreatedAt: now,
	}
	if rt.ShouldPurge(time.Minute, fixedNow(now.Add(90*time.Second))) {
		t.Fatal("table should not be purgeable before TTL+grace elapses")
	}
	if !rt.ShouldPurge(time.Minute, fixedNow(now.Add(3*time.Minute))) {
		t.Fatal("table should be purgeable once TTL+grace has elapsed")
	}
}

func TestUpdateReplacesRoleSetsAndResetsInitializedWithoutWriters(t *testing.T) {
	now := time.Now()
	rt := NewRoutingTable("", []address.Address{address.New("r0", "7687")})
	rt.InitializedWithoutWriters = true

	fresh := &RoutingTable{
		Database: "neo4j",
		Routers:  []address.Address{address.New("r1", "7687")},
		Readers:  []address.Address{address.New("r2", "7687")},
		Writers:  []address.Address{address.New("w1", "7687")},
		TTL:      5 * time.Second,
	}
	rt.Update(fresh, fixedNow(now))

	if rt.Database != "neo4j" {
		t.Fatalf("Database = %q, want neo4j", rt.Database)
	}
	if len(rt.Routers) != 1 || rt.Routers[0] != address.New("r1", "7687") {
		t.Fatalf("Routers = %v, want [r1:7687]", rt.Routers)
	}
	if !rt.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", rt.CreatedAt, now)
	}
	if rt.InitializedWithoutWriters {
		t.Fatal("InitializedWithoutWriters must be cleared once an update reports writers")
	}
}

func TestUpdateSetsInitializedWithoutWritersWhenWritersEmpty(t *testing.T) {
	rt := NewRoutingTable("", nil)
	fresh := &RoutingTable{
		Routers: []address.Address{address.New("r1", "7687")},
		Readers: []address.Address{address.New("r2", "7687")},
		Writers: nil,
	}
	rt.Update(fresh, fixedNow(time.Now()))
	if !rt.InitializedWithoutWriters {
		t.Fatal("InitializedWithoutWriters must be set when the update reports no writers")
	}
}

func TestUpdateKeepsDatabaseWhenFreshDatabaseEmpty(t *testing.T) {
	rt := NewRoutingTable("neo4j", nil)
	fresh := &RoutingTable{Database: "", Routers: []address.Address{address.New("r1", "7687")}}
	rt.Update(fresh, fixedNow(time.Now()))
	if rt.Database != "neo4j" {
		t.Fatalf("Database = %q, want unchanged neo4j", rt.Database)
	}
}

func TestRemoveAddressRespectsRoleFlags(t *testing.T) {
	a := address.New("bad", "7687")
	rt := &RoutingTable{
		Routers: []address.Address{a},
		Readers: []address.Address{a},
		Writers: []address.Address{a},
	}
	rt.RemoveAddress(a, false, false, true)
	if len(rt.Writers) != 0 {
		t.Fatal("writers should have had the address removed")
	}
	if len(rt.Routers) != 1 || len(rt.Readers) != 1 {
		t.Fatal("routers and readers should be untouched")
	}

	rt.RemoveAddress(a, true, true, false)
	if len(rt.Routers) != 0 || len(rt.Readers) != 0 {
		t.Fatal("routers and readers should now have the address removed")
	}
}

func TestRoleSetSelectsByMode(t *testing.T) {
	readers := []address.Address{address.New("reader", "7687")}
	writers := []address.Address{address.New("writer", "7687")}
	rt := &RoutingTable{Readers: readers, Writers: writers}

	if got := rt.RoleSet(ReadMode); len(got) != 1 || got[0] != readers[0] {
		t.Fatalf("RoleSet(ReadMode) = %v, want %v", got, readers)
	}
	if got := rt.RoleSet(WriteMode); len(got) != 1 || got[0] != writers[0] {
		t.Fatalf("RoleSet(WriteMode) = %v, want %v", got, writers)
	}
}
