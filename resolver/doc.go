// Copyright 2026 Envoyproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resolver provides single-shot name resolution for DNS-backed
// clusters. Name resolution is the process of resolving a domain name
// into one or more IP addresses; the periodic re-resolution loop, port
// assignment, and host-list reconciliation all live with the cluster
// that owns the name, so the [Resolver] interface here stays a single
// cancellable call.
//
// # Implementations
//
// [NewSystemResolver] wraps a [net.Resolver] (the platform resolver by
// default). It honors the cluster's address-family preference but
// cannot observe record TTLs, so its reported TTL is always zero and
// callers fall back to their fixed refresh interval.
//
// [NewServersResolver] queries explicitly configured DNS servers using
// github.com/miekg/dns. Clusters configured with dns_resolvers use this
// implementation; because the raw responses are visible, it reports the
// minimum record TTL, which is what allows respect_dns_ttl to schedule
// the next refresh from DNS data instead of a fixed interval.
//
// Both implementations are stateless and safe for concurrent use by any
// number of resolve targets.
package resolver
