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
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/hostcache"
	"github.com/surki/envoy/internal/clocktest"
)

// resolveResult is one scripted answer for gatedResolver.
type resolveResult struct {
	addrs []netip.Addr
	ttl   time.Duration
	err   error
}

// gatedResolver blocks each Resolve call until the test hands it a
// result for that hostname, which makes resolution timing fully
// deterministic.
type gatedResolver struct {
	channels map[string]chan resolveResult
}

func newGatedResolver(hosts ...string) *gatedResolver {
	channels := make(map[string]chan resolveResult, len(hosts))
	for _, host := range hosts {
		channels[host] = make(chan resolveResult)
	}
	return &gatedResolver{channels: channels}
}

func (g *gatedResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	ch, ok := g.channels[host]
	if !ok {
		panic("unexpected hostname " + host)
	}
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case result := <-ch:
		return result.addrs, result.ttl, result.err
	}
}

// send hands the next answer for host to a waiting Resolve call.
func (g *gatedResolver) send(t *testing.T, host string, result resolveResult) {
	t.Helper()
	select {
	case g.channels[host] <- result:
	case <-time.After(5 * time.Second):
		t.Fatalf("resolver for %s was never polled", host)
	}
}

func addrs(raw ...string) []netip.Addr {
	parsed := make([]netip.Addr, 0, len(raw))
	for _, r := range raw {
		parsed = append(parsed, netip.MustParseAddr(r))
	}
	return parsed
}

func strictDNSConfig(hosts ...string) config.Cluster {
	return config.Cluster{
		Name:             "web",
		Type:             config.ClusterStrictDNS,
		ConnectTimeoutMs: 250,
		Hosts:            hosts,
	}
}

func TestStrictDNSClusterResolvesAndPublishes(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	res := newGatedResolver("web.internal")

	cluster, err := NewCluster(strictDNSConfig("web.internal:80"), ClusterOptions{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		Resolver: res,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	res.send(t, "web.internal", resolveResult{addrs: addrs("10.0.0.1", "10.0.0.2")})
	waitInitialized(t, cluster)
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80"}, hostAddrs(cluster.Hosts()))
	kept := cluster.Hosts()[0]

	updates := recordUpdates(cluster)

	// Next refresh drops .2 and picks up .3; .1 must keep its object.
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(5 * time.Second)
	res.send(t, "web.internal", resolveResult{addrs: addrs("10.0.0.1", "10.0.0.3")})

	update := nextUpdate(t, updates)
	assert.Equal(t, []string{"10.0.0.3:80"}, update.added)
	assert.Equal(t, []string{"10.0.0.2:80"}, update.removed)
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.3:80"}, hostAddrs(cluster.Hosts()))
	assert.Same(t, kept, cluster.Hosts()[0], "surviving address keeps its host object")
}

func TestStrictDNSClusterUnionAcrossTargets(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	res := newGatedResolver("a.internal", "b.internal")

	cluster, err := NewCluster(strictDNSConfig("a.internal:80", "b.internal:81"), ClusterOptions{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		Resolver: res,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	res.send(t, "a.internal", resolveResult{addrs: addrs("10.0.0.1")})
	res.send(t, "b.internal", resolveResult{addrs: addrs("10.0.0.2")})
	waitInitialized(t, cluster)

	assert.Eventually(t, func() bool {
		return len(cluster.Hosts()) == 2
	}, 5*time.Second, 5*time.Millisecond, "membership is the union of every target's answers")
	assert.ElementsMatch(t, []string{"10.0.0.1:80", "10.0.0.2:81"}, hostAddrs(cluster.Hosts()))
}

func TestStrictDNSClusterFailureKeepsHosts(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	res := newGatedResolver("web.internal")

	cluster, err := NewCluster(strictDNSConfig("web.internal:80"), ClusterOptions{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		Resolver: res,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	res.send(t, "web.internal", resolveResult{addrs: addrs("10.0.0.1")})
	waitInitialized(t, cluster)
	require.Equal(t, []string{"10.0.0.1:80"}, hostAddrs(cluster.Hosts()))

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(5 * time.Second)
	res.send(t, "web.internal", resolveResult{err: assert.AnError})

	// The failed pass keeps the held hosts and the refresh cadence.
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	assert.Equal(t, []string{"10.0.0.1:80"}, hostAddrs(cluster.Hosts()))

	sd := cluster.(*strictDNSCluster)
	assert.Equal(t, float64(2), testutil.ToFloat64(sd.info.stats.updateAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(sd.info.stats.updateSuccesses))
	assert.Equal(t, float64(1), testutil.ToFloat64(sd.info.stats.updateFailures))
}

func TestStrictDNSClusterInitializedOnFailedAttempt(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	res := newGatedResolver("web.internal")

	cluster, err := NewCluster(strictDNSConfig("web.internal:80"), ClusterOptions{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		Resolver: res,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	res.send(t, "web.internal", resolveResult{err: assert.AnError})
	waitInitialized(t, cluster)
	assert.Empty(t, cluster.Hosts(), "readiness must not hang on a dead dns server")
}

func TestStrictDNSClusterRespectsTTL(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	res := newGatedResolver("web.internal")

	cfg := strictDNSConfig("web.internal:80")
	cfg.RespectDNSTTL = true
	cluster, err := NewCluster(cfg, ClusterOptions{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		Resolver: res,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	res.send(t, "web.internal", resolveResult{addrs: addrs("10.0.0.1"), ttl: 30 * time.Second})
	waitInitialized(t, cluster)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))

	// The default refresh rate elapsing must not trigger a poll; the
	// record TTL governs.
	clock.Advance(5 * time.Second)
	select {
	case res.channels["web.internal"] <- resolveResult{addrs: addrs("10.0.0.1")}:
		t.Fatal("resolver polled before the record TTL elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(25 * time.Second)
	res.send(t, "web.internal", resolveResult{addrs: addrs("10.0.0.1"), ttl: 30 * time.Second})
}

func TestStrictDNSClusterSeedsFromCache(t *testing.T) {
	t.Parallel()
	cache, err := hostcache.Open(filepath.Join(t.TempDir(), "hosts.db"))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cache.Close())
	}()
	require.NoError(t, cache.Put("web", "web.internal:80", addrs("10.1.1.1")))

	clock := clocktest.NewFakeClock()
	res := newGatedResolver("web.internal")
	cluster, err := NewCluster(strictDNSConfig("web.internal:80"), ClusterOptions{
		Logger:    zerolog.Nop(),
		Clock:     clock,
		Resolver:  res,
		HostCache: cache,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	// Cached addresses are served before any live resolution, but the
	// cluster does not count as initialized off them.
	assert.Equal(t, []string{"10.1.1.1:80"}, hostAddrs(cluster.Hosts()))
	select {
	case <-cluster.Initialized():
		t.Fatal("cache seeding must not mark the cluster initialized")
	default:
	}

	res.send(t, "web.internal", resolveResult{addrs: addrs("10.2.2.2")})
	waitInitialized(t, cluster)
	assert.Eventually(t, func() bool {
		cached, _, err := cache.Get("web", "web.internal:80")
		return err == nil && len(cached) == 1 && cached[0] == netip.MustParseAddr("10.2.2.2")
	}, 5*time.Second, 5*time.Millisecond, "live results must refresh the cache")
	assert.Equal(t, []string{"10.2.2.2:80"}, hostAddrs(cluster.Hosts()))
}

func TestStrictDNSClusterEmptyAnswerRemovesHosts(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	res := newGatedResolver("web.internal")

	cluster, err := NewCluster(strictDNSConfig("web.internal:80"), ClusterOptions{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		Resolver: res,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cluster.Close())
	}()

	res.send(t, "web.internal", resolveResult{addrs: addrs("10.0.0.1")})
	waitInitialized(t, cluster)
	updates := recordUpdates(cluster)

	// Without health checking there is no retention: an empty answer
	// empties the cluster.
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(5 * time.Second)
	res.send(t, "web.internal", resolveResult{})

	update := nextUpdate(t, updates)
	assert.Empty(t, update.added)
	assert.Equal(t, []string{"10.0.0.1:80"}, update.removed)
	assert.Empty(t, cluster.Hosts())
}
