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

// Package address distinguishes the host:port tuples a routing table names
// from the concrete, resolved endpoints a pool dials, and names the
// resolver contract used to go from one to the other.
package address

import (
	"context"
	"fmt"
)

// Address is an unresolved host:port tuple, as it appears in a routing
// table's routers/readers/writers sets and as it is used to key routing
// table membership (§3's invariant: routing-table membership is keyed by
// the unresolved form).
type Address struct {
	Host string
	Port string
}

func New(host, port string) Address {
	return Address{Host: host, Port: port}
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// ResolvedAddress is one concrete endpoint a resolver produced from an
// Address, carrying the original unresolved host for SNI and for checking
// routing-table membership after resolution. Pool keying uses this form.
type ResolvedAddress struct {
	Unresolved Address
	IP         string
	Port       string
	// Zone and FlowInfo are only meaningful for IPv6 endpoints; left zero
	// for IPv4.
	Zone     string
	FlowInfo uint32
}

func (r ResolvedAddress) String() string {
	if r.Zone != "" {
		return fmt.Sprintf("[%s%%%s]:%s", r.IP, r.Zone, r.Port)
	}
	return fmt.Sprintf("%s:%s", r.IP, r.Port)
}

// Key is the pool's map key for this endpoint: the resolved IP and port,
// per §3's "pool keying uses the resolved form" invariant.
func (r ResolvedAddress) Key() string {
	return r.String()
}

// Resolver turns one unresolved Address into an ordered sequence of
// ResolvedAddress values. Order is significant — the caller (the router's
// rediscovery loop) tries results in emission order and stops at the first
// success. The pool never resolves; it is handed resolved addresses.
type Resolver interface {
	Resolve(ctx context.Context, unresolved Address) ([]ResolvedAddress, error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(ctx context.Context, unresolved Address) ([]ResolvedAddress, error)

func (f ResolverFunc) Resolve(ctx context.Context, unresolved Address) ([]ResolvedAddress, error) {
	return f(ctx, unresolved)
}

// Identity returns a Resolver that treats every unresolved address as
// already resolved (host copied verbatim into IP). Useful for tests and for
// deployments where addresses are already IPs.
func Identity() Resolver {
	return ResolverFunc(func(_ context.Context, unresolved Address) ([]ResolvedAddress, error) {
		return []ResolvedAddress{{
			Unresolved: unresolved,
			IP:         unresolved.Host,
			Port:       unresolved.Port,
		}}, nil
	})
}
