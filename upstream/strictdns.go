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

package upstream

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/hostcache"
	"github.com/surki/envoy/internal"
	"github.com/surki/envoy/resolver"
)

// minDNSRefreshInterval floors TTL-driven re-resolution so a zero or
// tiny record TTL cannot turn the refresh loop into a busy spin.
const minDNSRefreshInterval = time.Second

// strictDNSCluster resolves every configured hostname on a timer and
// treats the union of the answers as the authoritative membership.
// Each hostname gets its own resolve loop; a host object survives
// across refreshes as long as its address keeps appearing, so health
// state accumulated on it is preserved.
type strictDNSCluster struct {
	*baseCluster

	res        resolver.Resolver
	cache      *hostcache.Cache
	refresh    time.Duration
	respectTTL bool
	targets    []*resolveTarget

	cancel context.CancelFunc
	group  *errgroup.Group
	ctx    context.Context
}

// resolveTarget is one configured hostname:port. hosts is the held
// list this target last contributed to the cluster, guarded by the
// cluster's mu.
type resolveTarget struct {
	parent     *strictDNSCluster
	dnsAddress string
	port       string
	hostPort   string
	hosts      []*Host
}

func newStrictDNSCluster(cfg config.Cluster, base *baseCluster, res resolver.Resolver, cache *hostcache.Cache) *strictDNSCluster {
	c := &strictDNSCluster{
		baseCluster: base,
		res:         res,
		cache:       cache,
		refresh:     cfg.DNSRefreshRate(),
		respectTTL:  cfg.RespectDNSTTL,
	}
	for _, hostPort := range cfg.Hosts {
		host, port, _ := net.SplitHostPort(hostPort)
		c.targets = append(c.targets, &resolveTarget{
			parent:     c,
			dnsAddress: host,
			port:       port,
			hostPort:   hostPort,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, c.ctx = errgroup.WithContext(ctx)
	return c
}

func (c *strictDNSCluster) start() error {
	if c.cache != nil {
		c.seedFromCache()
	}
	for _, target := range c.targets {
		c.group.Go(func() error {
			target.run(c.ctx)
			return nil
		})
	}
	return nil
}

func (c *strictDNSCluster) Close() error {
	c.cancel()
	_ = c.group.Wait()
	return c.closeBindings()
}

// seedFromCache publishes the addresses persisted by a previous run so
// consumers have somewhere to send traffic before the first live
// resolution lands. The cluster does not count as initialized off
// cached data alone.
func (c *strictDNSCluster) seedFromCache() {
	for _, target := range c.targets {
		addrs, updatedAt, err := c.cache.Get(c.info.name, target.hostPort)
		if err != nil {
			if !errors.Is(err, hostcache.ErrNotFound) {
				c.logger.Warn().Err(err).Str("host", target.hostPort).Msg("host cache read failed")
			}
			continue
		}
		if len(addrs) == 0 {
			continue
		}
		target.updateHosts(target.buildHosts(addrs))
		c.logger.Info().
			Str("host", target.hostPort).
			Int("addresses", len(addrs)).
			Dur("age", c.clock.Since(updatedAt)).
			Msg("seeded hosts from cache")
	}
}

// allHostsLocked concatenates every target's held list in configured
// target order. Caller must hold c.mu.
func (c *strictDNSCluster) allHostsLocked() []*Host {
	total := 0
	for _, target := range c.targets {
		total += len(target.hosts)
	}
	all := make([]*Host, 0, total)
	for _, target := range c.targets {
		all = append(all, target.hosts...)
	}
	return all
}

// run resolves immediately, then re-arms for the effective refresh
// interval after each completion. Failures keep the current hosts and
// the same cadence. The timer is only ever Reset after its channel has
// been received from, so no drain is needed.
func (t *resolveTarget) run(ctx context.Context) {
	var timer internal.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		interval := t.resolveOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if timer == nil {
			timer = t.parent.clock.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}
	}
}

// resolveOnce performs a single resolution pass and returns the
// interval until the next one. The cluster counts as initialized once
// the pass completes, whether or not it succeeded; consumers waiting
// on readiness should not hang on a dead DNS server.
func (t *resolveTarget) resolveOnce(ctx context.Context) time.Duration {
	c := t.parent
	c.info.stats.updateAttempts.Inc()

	addrs, ttl, err := c.res.Resolve(ctx, t.dnsAddress)
	if ctx.Err() != nil {
		return c.refresh
	}
	if err != nil {
		c.info.stats.updateFailures.Inc()
		c.logger.Warn().Err(err).Str("host", t.hostPort).Msg("dns resolution failed")
		c.markInitialized()
		return c.refresh
	}
	c.info.stats.updateSuccesses.Inc()

	t.updateHosts(t.buildHosts(addrs))

	if c.cache != nil {
		if err := c.cache.Put(c.info.name, t.hostPort, addrs); err != nil {
			c.logger.Warn().Err(err).Str("host", t.hostPort).Msg("host cache write failed")
		}
	}
	c.markInitialized()

	if c.respectTTL && ttl > 0 {
		return max(ttl, minDNSRefreshInterval)
	}
	return c.refresh
}

func (t *resolveTarget) buildHosts(addrs []netip.Addr) []*Host {
	hosts := make([]*Host, 0, len(addrs))
	for _, addr := range addrs {
		hosts = append(hosts, NewHost(t.parent.info, net.JoinHostPort(addr.String(), t.port), HostOptions{
			Hostname: t.dnsAddress,
		}))
	}
	return hosts
}

// updateHosts reconciles a freshly built list into this target's held
// hosts and republishes the merged cluster membership if the
// population changed. Weight-only and no-op passes publish nothing.
// DNS answers are authoritative for membership, so absent addresses
// are dropped even when a health checker is bound.
func (t *resolveTarget) updateHosts(newHosts []*Host) {
	c := t.parent
	c.mu.Lock()
	defer c.mu.Unlock()
	upd := updateDynamicHostList(newHosts, t.hosts, false)
	t.hosts = upd.hosts
	c.info.stats.maxHostWeight.Set(float64(upd.maxWeight))
	if upd.changed {
		c.publishLocked(c.allHostsLocked(), upd.added, upd.removed)
	}
}
