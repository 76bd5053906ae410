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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/discovery"
	"github.com/surki/envoy/hostcache"
	"github.com/surki/envoy/internal"
	"github.com/surki/envoy/resolver"
)

// ClusterFeature is a bit set of optional upstream capabilities.
type ClusterFeature uint32

const (
	// FeatureHTTP2 marks the cluster's upstream connections as HTTP/2.
	FeatureHTTP2 ClusterFeature = 1 << iota
)

// ClusterInfo carries the settings every connection and request to a
// cluster consults. It is immutable after construction apart from
// maintenance mode, so it can be shared freely across goroutines and
// referenced by each Host without locking.
type ClusterInfo struct {
	name                          string
	clusterType                   config.ClusterType
	lbPolicy                      config.LbPolicy
	connectTimeout                time.Duration
	perConnectionBufferLimitBytes uint32
	maxRequestsPerConnection      uint32
	features                      ClusterFeature
	tls                           bool

	maintenanceMode atomic.Bool

	resourceManagers [NumPriorities]*ResourceManager
	stats            *clusterStats
}

func newClusterInfo(cfg config.Cluster, metrics *Metrics) *ClusterInfo {
	info := &ClusterInfo{
		name:                          cfg.Name,
		clusterType:                   cfg.Type,
		lbPolicy:                      cfg.Policy(),
		connectTimeout:                cfg.ConnectTimeout(),
		perConnectionBufferLimitBytes: cfg.PerConnectionBufferLimit(),
		maxRequestsPerConnection:      cfg.MaxRequestsPerConnection,
		tls:                           cfg.TLS,
		stats:                         metrics.forCluster(cfg.Name),
	}
	if cfg.HTTP2 {
		info.features |= FeatureHTTP2
	}
	for p := PriorityDefault; p < NumPriorities; p++ {
		maxConns, maxPending, maxReqs, maxRetries := cfg.Limits(p.configPriority())
		info.resourceManagers[p] = NewResourceManager(maxConns, maxPending, maxReqs, maxRetries)
	}
	return info
}

// Name returns the cluster's unique configured name.
func (i *ClusterInfo) Name() string { return i.name }

// Type returns how the cluster discovers membership.
func (i *ClusterInfo) Type() config.ClusterType { return i.clusterType }

// LbPolicy returns the load-balancer policy consumers should apply.
func (i *ClusterInfo) LbPolicy() config.LbPolicy { return i.lbPolicy }

// ConnectTimeout returns the budget for establishing a new upstream
// connection.
func (i *ClusterInfo) ConnectTimeout() time.Duration { return i.connectTimeout }

// PerConnectionBufferLimitBytes returns the soft cap on buffered bytes
// per upstream connection.
func (i *ClusterInfo) PerConnectionBufferLimitBytes() uint32 {
	return i.perConnectionBufferLimitBytes
}

// MaxRequestsPerConnection returns how many requests may share one
// connection. Zero means unlimited.
func (i *ClusterInfo) MaxRequestsPerConnection() uint32 { return i.maxRequestsPerConnection }

// Features returns the cluster's capability bits.
func (i *ClusterInfo) Features() ClusterFeature { return i.features }

// TLS reports whether upstream connections are encrypted.
func (i *ClusterInfo) TLS() bool { return i.tls }

// MaintenanceMode reports whether the cluster is administratively
// refusing traffic.
func (i *ClusterInfo) MaintenanceMode() bool { return i.maintenanceMode.Load() }

// SetMaintenanceMode flips maintenance mode at runtime. Membership and
// health tracking continue while it is on.
func (i *ClusterInfo) SetMaintenanceMode(on bool) { i.maintenanceMode.Store(on) }

// ResourceManager returns the circuit-breaker budgets for a priority.
func (i *ClusterInfo) ResourceManager(p Priority) *ResourceManager {
	if p < 0 || p >= NumPriorities {
		p = PriorityDefault
	}
	return i.resourceManagers[p]
}

func (p Priority) configPriority() config.Priority {
	if p == PriorityHigh {
		return config.PriorityHigh
	}
	return config.PriorityDefault
}

// Cluster is a named group of upstream hosts plus the machinery that
// keeps the group current. Implementations discover membership in
// different ways; consumers read host lists and subscribe to changes
// through the same surface regardless.
type Cluster interface {
	// Info returns the cluster's immutable settings.
	Info() *ClusterInfo

	// Hosts returns the current full membership.
	Hosts() []*Host
	// HealthyHosts returns the members currently eligible for traffic.
	HealthyHosts() []*Host
	// HostsPerZone returns membership grouped by zone in first-seen
	// order.
	HostsPerZone() [][]*Host
	// HealthyHostsPerZone returns the eligible members per zone,
	// parallel to HostsPerZone.
	HealthyHostsPerZone() [][]*Host

	// AddMemberUpdateCb subscribes to membership updates. Callbacks
	// also fire with empty added and removed lists when only health
	// state moved.
	AddMemberUpdateCb(cb HostUpdateCb)

	// SetHealthChecker binds an active health checker and starts it.
	// Bind before discovery publishes hosts so new members are gated
	// on passing a check.
	SetHealthChecker(hc HealthChecker)
	// SetOutlierDetector binds a passive outlier detector and starts
	// it.
	SetOutlierDetector(od OutlierDetector)
	// HealthChecker returns the bound checker, or nil.
	HealthChecker() HealthChecker
	// OutlierDetector returns the bound detector, or nil.
	OutlierDetector() OutlierDetector

	// Initialized is closed once the cluster has completed its first
	// discovery pass and its host lists are meaningful.
	Initialized() <-chan struct{}

	// Close stops discovery and any bound checker or detector.
	Close() error
}

// runnableCluster is what the factory drives: construction wires
// dependencies, start begins discovering.
type runnableCluster interface {
	Cluster
	start() error
}

// baseCluster carries the state every cluster type shares: the
// published host set, the initialization latch, and the health
// checker and outlier detector bindings. Concrete clusters embed it
// and feed it membership through publishLocked.
type baseCluster struct {
	*HostSet

	info   *ClusterInfo
	logger zerolog.Logger
	clock  internal.Clock

	// mu serializes membership mutation. Snapshot reads do not take
	// it.
	mu            sync.Mutex
	healthChecker HealthChecker
	outlier       OutlierDetector

	initOnce    sync.Once
	initialized chan struct{}
}

func newBaseCluster(info *ClusterInfo, logger zerolog.Logger, clock internal.Clock) *baseCluster {
	return &baseCluster{
		HostSet:     newHostSet(logger),
		info:        info,
		logger:      logger,
		clock:       clock,
		initialized: make(chan struct{}),
	}
}

func (c *baseCluster) Info() *ClusterInfo { return c.info }

func (c *baseCluster) Initialized() <-chan struct{} { return c.initialized }

func (c *baseCluster) markInitialized() {
	c.initOnce.Do(func() { close(c.initialized) })
}

// publishLocked swaps in a new membership snapshot and notifies
// subscribers. The caller must hold c.mu, which makes it the sole
// writer: readers always observe either the previous complete view or
// the new one.
func (c *baseCluster) publishLocked(hosts, added, removed []*Host) {
	snap := newSnapshot(hosts)
	c.info.stats.membershipTotal.Set(float64(len(snap.hosts)))
	c.info.stats.membershipHealthy.Set(float64(len(snap.healthyHosts)))
	if len(added) > 0 || len(removed) > 0 {
		c.info.stats.membershipChanges.Inc()
		c.logger.Debug().
			Int("hosts", len(snap.hosts)).
			Int("healthy", len(snap.healthyHosts)).
			Int("added", len(added)).
			Int("removed", len(removed)).
			Msg("cluster membership changed")
	}
	c.publish(snap, added, removed)
}

// reloadHealthyHosts recomputes the healthy subsets after a host
// changed health state. Membership itself is unchanged, so update
// callbacks fire with empty added and removed lists.
func (c *baseCluster) reloadHealthyHosts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(c.Hosts(), nil, nil)
}

func (c *baseCluster) SetHealthChecker(hc HealthChecker) {
	c.mu.Lock()
	c.healthChecker = hc
	c.mu.Unlock()
	hc.AddHostCheckCompleteCb(func(_ *Host, changed bool) {
		if changed {
			c.reloadHealthyHosts()
		}
	})
	hc.Start(c)
}

func (c *baseCluster) SetOutlierDetector(od OutlierDetector) {
	c.mu.Lock()
	c.outlier = od
	c.mu.Unlock()
	od.AddChangedStateCb(func(_ *Host) {
		c.reloadHealthyHosts()
	})
	od.Start(c)
}

func (c *baseCluster) HealthChecker() HealthChecker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthChecker
}

func (c *baseCluster) OutlierDetector() OutlierDetector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outlier
}

// closeBindings stops the bound checker and detector. Concrete
// clusters call it from Close after their own discovery loops have
// drained.
func (c *baseCluster) closeBindings() error {
	c.mu.Lock()
	hc, od := c.healthChecker, c.outlier
	c.healthChecker, c.outlier = nil, nil
	c.mu.Unlock()

	var errs []error
	if hc != nil {
		errs = append(errs, hc.Close())
	}
	if od != nil {
		errs = append(errs, od.Close())
	}
	return errors.Join(errs...)
}

// ClusterOptions supplies the dependencies a cluster needs beyond its
// own configuration. Zero values get working defaults where one
// exists.
type ClusterOptions struct {
	// Logger receives discovery and membership events. It is extended
	// with a "cluster" field.
	Logger zerolog.Logger
	// Clock drives refresh timers, check intervals, and ejection
	// sweeps. Nil means the system clock.
	Clock internal.Clock
	// Metrics is the metric family this cluster records into. Nil
	// means a private throwaway registry, which suits tests.
	Metrics *Metrics
	// HostCache persists resolved addresses across restarts for
	// DNS-backed clusters. Optional.
	HostCache *hostcache.Cache
	// Resolver overrides DNS resolution for strict_dns and
	// logical_dns clusters. Nil selects the cluster's configured
	// dns_resolvers, falling back to the system resolver.
	Resolver resolver.Resolver
	// Source supplies endpoint sets for eds clusters, which require
	// it. Ignored for other types.
	Source discovery.Source
}

// NewCluster builds and starts the cluster cfg describes. Discovery
// begins before NewCluster returns; wait on Initialized before
// trusting the host lists.
func NewCluster(cfg config.Cluster, opts ClusterOptions) (Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = internal.SystemClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	logger := opts.Logger.With().Str("cluster", cfg.Name).Logger()

	base := newBaseCluster(newClusterInfo(cfg, opts.Metrics), logger, opts.Clock)

	var cluster runnableCluster
	switch cfg.Type {
	case config.ClusterStatic:
		cluster = newStaticCluster(cfg, base)
	case config.ClusterOriginalDst:
		cluster = newOriginalDstCluster(base)
	case config.ClusterStrictDNS:
		cluster = newStrictDNSCluster(cfg, base, clusterResolver(cfg, opts), opts.HostCache)
	case config.ClusterLogicalDNS:
		cluster = newLogicalDNSCluster(cfg, base, clusterResolver(cfg, opts), opts.HostCache)
	case config.ClusterEDS:
		if opts.Source == nil {
			return nil, fmt.Errorf("cluster %q: eds requires a discovery source", cfg.Name)
		}
		cluster = newEDSCluster(base, opts.Source)
	default:
		return nil, fmt.Errorf("cluster %q: unknown type %q", cfg.Name, cfg.Type)
	}

	if cfg.HealthCheck != nil {
		cluster.SetHealthChecker(newPollingHealthChecker(*cfg.HealthCheck, logger, opts.Clock))
	}
	if cfg.OutlierDetection != nil {
		cluster.SetOutlierDetector(NewDetector(*cfg.OutlierDetection, logger, opts.Clock))
	}

	if err := cluster.start(); err != nil {
		_ = cluster.Close()
		return nil, fmt.Errorf("cluster %q: %w", cfg.Name, err)
	}
	return cluster, nil
}

// clusterResolver picks the resolver for a DNS-backed cluster: an
// explicit override, the cluster's configured dns_resolvers servers,
// or the process-wide system resolver.
func clusterResolver(cfg config.Cluster, opts ClusterOptions) resolver.Resolver {
	if opts.Resolver != nil {
		return opts.Resolver
	}
	family := resolverFamily(cfg.LookupFamily())
	if servers := cfg.DNSResolverAddrs(); len(servers) > 0 {
		return resolver.NewServersResolver(servers, family)
	}
	return resolver.NewSystemResolver(nil, family)
}

func resolverFamily(f config.DNSLookupFamily) resolver.Family {
	switch f {
	case config.DNSV4Only:
		return resolver.FamilyV4Only
	case config.DNSV6Only:
		return resolver.FamilyV6Only
	default:
		return resolver.FamilyAuto
	}
}
