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
	"time"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/hostcache"
	"github.com/surki/envoy/internal"
	"github.com/surki/envoy/resolver"
)

// logicalDNSCluster presents exactly one logical member regardless of
// how many addresses its hostname resolves to. New connections go to
// the most recently resolved address; the membership itself never
// churns after the first successful resolution, so accumulated health
// state and subscriber callbacks stay quiet across address flips. This
// suits large round-robin DNS names where tracking each address as a
// member would thrash.
type logicalDNSCluster struct {
	*baseCluster

	res        resolver.Resolver
	cache      *hostcache.Cache
	refresh    time.Duration
	respectTTL bool
	dnsAddress string
	port       string
	hostPort   string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// host is the single logical member, nil until the first
	// non-empty resolution or the cache seed. Guarded by mu.
	host *Host
}

func newLogicalDNSCluster(cfg config.Cluster, base *baseCluster, res resolver.Resolver, cache *hostcache.Cache) *logicalDNSCluster {
	hostPort := cfg.Hosts[0]
	host, port, _ := net.SplitHostPort(hostPort)
	ctx, cancel := context.WithCancel(context.Background())
	return &logicalDNSCluster{
		baseCluster: base,
		res:         res,
		cache:       cache,
		refresh:     cfg.DNSRefreshRate(),
		respectTTL:  cfg.RespectDNSTTL,
		dnsAddress:  host,
		port:        port,
		hostPort:    hostPort,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (c *logicalDNSCluster) start() error {
	if c.cache != nil {
		c.seedFromCache()
	}
	go c.run()
	return nil
}

// seedFromCache points the logical member at the first address a
// previous run resolved, so connections have a destination before the
// first live resolution lands. The cluster does not count as
// initialized off cached data alone.
func (c *logicalDNSCluster) seedFromCache() {
	addrs, updatedAt, err := c.cache.Get(c.info.name, c.hostPort)
	if err != nil {
		if !errors.Is(err, hostcache.ErrNotFound) {
			c.logger.Warn().Err(err).Str("host", c.hostPort).Msg("host cache read failed")
		}
		return
	}
	if len(addrs) == 0 {
		return
	}
	c.setTarget(net.JoinHostPort(addrs[0].String(), c.port))
	c.logger.Info().
		Str("host", c.hostPort).
		Dur("age", c.clock.Since(updatedAt)).
		Msg("seeded target from cache")
}

func (c *logicalDNSCluster) Close() error {
	c.cancel()
	<-c.done
	return c.closeBindings()
}

func (c *logicalDNSCluster) run() {
	defer close(c.done)
	var timer internal.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		interval := c.resolveOnce(c.ctx)
		if c.ctx.Err() != nil {
			return
		}
		if timer == nil {
			timer = c.clock.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-c.ctx.Done():
			return
		case <-timer.Chan():
		}
	}
}

func (c *logicalDNSCluster) resolveOnce(ctx context.Context) time.Duration {
	c.info.stats.updateAttempts.Inc()

	addrs, ttl, err := c.res.Resolve(ctx, c.dnsAddress)
	if ctx.Err() != nil {
		return c.refresh
	}
	if err != nil {
		c.info.stats.updateFailures.Inc()
		c.logger.Warn().Err(err).Str("host", c.hostPort).Msg("dns resolution failed")
		c.markInitialized()
		return c.refresh
	}
	c.info.stats.updateSuccesses.Inc()

	// An empty answer leaves the current target alone. Connections in
	// flight and the held member outlive transient DNS hiccups.
	if len(addrs) > 0 {
		c.setTarget(net.JoinHostPort(addrs[0].String(), c.port))
		if c.cache != nil {
			if err := c.cache.Put(c.info.name, c.hostPort, addrs); err != nil {
				c.logger.Warn().Err(err).Str("host", c.hostPort).Msg("host cache write failed")
			}
		}
	}
	c.markInitialized()

	if c.respectTTL && ttl > 0 {
		return max(ttl, minDNSRefreshInterval)
	}
	return c.refresh
}

// setTarget creates the logical member on first use and swaps its dial
// target afterwards. Only the creation publishes; a target swap is not
// a membership change.
func (c *logicalDNSCluster) setTarget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.host == nil {
		c.host = NewHost(c.info, c.hostPort, HostOptions{Hostname: c.dnsAddress})
		c.host.setTarget(target)
		c.publishLocked([]*Host{c.host}, []*Host{c.host}, nil)
		return
	}
	if old := c.host.Target(); old != target {
		c.host.setTarget(target)
		c.logger.Debug().
			Str("host", c.hostPort).
			Str("previous", old).
			Str("target", target).
			Msg("logical dns target updated")
	}
}
