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

package address

import (
	"context"
	"testing"
)

func TestAddressString(t *testing.T) {
	a := New("neo.example.com", "7687")
	if got, want := a.String(), "neo.example.com:7687"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolvedAddressStringIPv4(t *testing.T) {
	r := ResolvedAddress{IP: "10.0.0.1", Port: "7687"}
	if got, want := r.String(), "10.0.0.1:7687"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolvedAddressStringIPv6WithZone(t *testing.T) {
	r := ResolvedAddress{IP: "fe80::1", Port: "7687", Zone: "eth0"}
	if got, want := r.String(), "[fe80::1%eth0]:7687"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolvedAddressKeyMatchesString(t *testing.T) {
	r := ResolvedAddress{IP: "10.0.0.1", Port: "7687"}
	if r.Key() != r.String() {
		t.Fatalf("Key() = %q, want %q (same as String())", r.Key(), r.String())
	}
}

func TestIdentityResolverCopiesHostVerbatim(t *testing.T) {
	resolved, err := Identity().Resolve(context.Background(), New("10.0.0.5", "7687"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("got %d resolved addresses, want 1", len(resolved))
	}
	got := resolved[0]
	if got.IP != "10.0.0.5" || got.Port != "7687" {
		t.Fatalf("resolved = %+v, want IP=10.0.0.5 Port=7687", got)
	}
	if got.Unresolved != (Address{Host: "10.0.0.5", Port: "7687"}) {
		t.Fatalf("resolved.Unresolved = %+v, want the original address", got.Unresolved)
	}
}

func TestResolverFuncAdapts(t *testing.T) {
	calledWith := Address{}
	var r Resolver = ResolverFunc(func(_ context.Context, unresolved Address) ([]ResolvedAddress, error) {
		calledWith = unresolved
		return []ResolvedAddress{{IP: "127.0.0.1", Port: unresolved.Port}}, nil
	})

	resolved, err := r.Resolve(context.Background(), New("localhost", "7687"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledWith != (Address{Host: "localhost", Port: "7687"}) {
		t.Fatalf("ResolverFunc was not called with the original address: %+v", calledWith)
	}
	if len(resolved) != 1 || resolved[0].IP != "127.0.0.1" {
		t.Fatalf("unexpected resolved result: %+v", resolved)
	}
}
