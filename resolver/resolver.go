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

package resolver

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// Family restricts which address families resolution returns.
type Family int

const (
	// FamilyAuto resolves both families but keeps only IPv6 addresses
	// when any are present, falling back to IPv4 otherwise.
	FamilyAuto Family = iota

	// FamilyV4Only resolves A records only.
	FamilyV4Only

	// FamilyV6Only resolves AAAA records only.
	FamilyV6Only
)

// Resolver performs one cancellable name resolution. Implementations
// must be safe for concurrent use; periodic re-resolution is the
// caller's concern.
//
// The returned TTL is the minimum record TTL of the response, or 0 when
// the implementation cannot observe TTLs.
type Resolver interface {
	Resolve(ctx context.Context, host string) (addrs []netip.Addr, minTTL time.Duration, err error)
}

// NewSystemResolver returns a Resolver backed by the platform resolver.
// A nil netRes uses [net.DefaultResolver]. Record TTLs are not exposed
// by [net.Resolver], so the returned TTL is always 0.
func NewSystemResolver(netRes *net.Resolver, family Family) Resolver {
	if netRes == nil {
		netRes = net.DefaultResolver
	}
	return &systemResolver{resolver: netRes, family: family}
}

type systemResolver struct {
	resolver *net.Resolver
	family   Family
}

func (r *systemResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	network := "ip"
	switch r.family {
	case FamilyV4Only:
		network = "ip4"
	case FamilyV6Only:
		network = "ip6"
	}
	addresses, err := r.resolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return nil, 0, err
	}
	if r.family == FamilyAuto {
		// Prefer the IPv6 answers when the name has both families.
		ip6Addresses := addresses[:0]
		for _, address := range addresses {
			if address.Is6() && !address.Is4In6() {
				ip6Addresses = append(ip6Addresses, address)
			}
		}
		if len(ip6Addresses) > 0 {
			addresses = ip6Addresses
		}
	}
	result := make([]netip.Addr, len(addresses))
	for i, address := range addresses {
		// The Go resolver reports IPv4 answers in 4-in-6 form; unmap so
		// address strings compare stably across resolutions.
		result[i] = address.Unmap()
	}
	return result, 0, nil
}
