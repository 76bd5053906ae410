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
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// NewServersResolver returns a Resolver that queries the given DNS
// servers ("ip:port" form) directly instead of the platform resolver.
// Servers are tried in order until one answers. Unlike the system
// resolver, this implementation reports the minimum record TTL of each
// response, which lets clusters honor respect_dns_ttl.
func NewServersResolver(servers []string, family Family) Resolver {
	return &serversResolver{
		servers: servers,
		family:  family,
		udp:     &dns.Client{Net: "udp"},
		tcp:     &dns.Client{Net: "tcp"},
	}
}

type serversResolver struct {
	servers []string
	family  Family
	udp     *dns.Client
	tcp     *dns.Client
}

func (r *serversResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	fqdn := dns.Fqdn(host)
	switch r.family {
	case FamilyV4Only:
		return r.query(ctx, fqdn, dns.TypeA)
	case FamilyV6Only:
		return r.query(ctx, fqdn, dns.TypeAAAA)
	default:
		// IPv6 first, IPv4 as the fallback.
		addrs, ttl, err := r.query(ctx, fqdn, dns.TypeAAAA)
		if err == nil && len(addrs) > 0 {
			return addrs, ttl, nil
		}
		return r.query(ctx, fqdn, dns.TypeA)
	}
}

func (r *serversResolver) query(ctx context.Context, fqdn string, qtype uint16) ([]netip.Addr, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.udp.ExchangeContext(ctx, msg, server)
		if err == nil && resp.Truncated {
			resp, _, err = r.tcp.ExchangeContext(ctx, msg, server)
		}
		if err != nil {
			lastErr = fmt.Errorf("query %s: %w", server, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("query %s: %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		return extractAddrs(resp)
	}
	if lastErr == nil {
		lastErr = errors.New("no dns servers configured")
	}
	return nil, 0, lastErr
}

// extractAddrs pulls the A/AAAA answers and the minimum TTL out of a
// response. CNAME chains contribute their TTLs too, since the cached
// result is only as fresh as its shortest-lived link.
func extractAddrs(resp *dns.Msg) ([]netip.Addr, time.Duration, error) {
	var (
		addrs  []netip.Addr
		minTTL uint32
		seen   bool
	)
	for _, rr := range resp.Answer {
		switch record := rr.(type) {
		case *dns.A:
			addr, ok := netip.AddrFromSlice(record.A.To4())
			if !ok {
				continue
			}
			addrs = append(addrs, addr)
		case *dns.AAAA:
			addr, ok := netip.AddrFromSlice(record.AAAA.To16())
			if !ok {
				continue
			}
			addrs = append(addrs, addr.Unmap())
		default:
			// CNAME and friends only matter for the TTL floor.
		}
		ttl := rr.Header().Ttl
		if !seen || ttl < minTTL {
			minTTL = ttl
			seen = true
		}
	}
	return addrs, time.Duration(minTTL) * time.Second, nil
}
