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
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/discovery"
	"github.com/surki/envoy/hostcache"
	"github.com/surki/envoy/internal"
	"github.com/surki/envoy/resolver"
)

// Options configures a Manager. The zero value works; everything has a
// default or is optional.
type Options struct {
	// Logger receives cluster lifecycle and membership events.
	Logger zerolog.Logger
	// Registry collects all cluster metrics. Nil means a fresh
	// registry, reachable afterwards through Manager.Registry.
	Registry *prometheus.Registry
	// Clock drives every timer in every cluster. Nil means the system
	// clock.
	Clock internal.Clock
	// HostCache persists DNS results across restarts. Optional.
	HostCache *hostcache.Cache
	// NewSource overrides how eds clusters get their endpoint source.
	// Nil dials the etcd cluster named in the cluster's eds_config.
	NewSource func(cfg config.Cluster) (discovery.Source, error)
	// NewResolver overrides DNS resolution per cluster. Nil picks the
	// cluster's configured dns_resolvers or the system resolver.
	NewResolver func(cfg config.Cluster) resolver.Resolver
}

// Manager owns the full set of clusters: it builds them from bootstrap
// configuration, serves lookups by name, and supports adding and
// removing clusters at runtime.
type Manager struct {
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	opts     Options

	mu       sync.Mutex
	clusters map[string]*managedCluster
}

// managedCluster pairs a cluster with resources the manager dialed on
// its behalf, such as an etcd client.
type managedCluster struct {
	cluster Cluster
	closers []io.Closer
}

func (e *managedCluster) close() error {
	var errs []error
	if e.cluster != nil {
		errs = append(errs, e.cluster.Close())
	}
	for _, closer := range e.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// NewManager builds every cluster in cfg and starts their discovery.
// Any cluster failing to construct fails the whole bootstrap; clusters
// already built are torn down again.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = internal.SystemClock()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Manager{
		logger:   opts.Logger,
		registry: registry,
		metrics:  NewMetrics(registry),
		opts:     opts,
		clusters: make(map[string]*managedCluster, len(cfg.Clusters)),
	}
	for _, clusterCfg := range cfg.Clusters {
		m.mu.Lock()
		err := m.addLocked(clusterCfg)
		m.mu.Unlock()
		if err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	m.logger.Info().Int("clusters", len(cfg.Clusters)).Msg("cluster manager initialized")
	return m, nil
}

// Registry returns the metrics registry the manager records into.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Get returns the named cluster.
func (m *Manager) Get(name string) (Cluster, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.clusters[name]
	if !ok {
		return nil, false
	}
	return entry.cluster, true
}

// Clusters returns all clusters ordered by name.
func (m *Manager) Clusters() []Cluster {
	m.mu.Lock()
	defer m.mu.Unlock()
	clusters := make([]Cluster, 0, len(m.clusters))
	for _, entry := range m.clusters {
		clusters = append(clusters, entry.cluster)
	}
	slices.SortFunc(clusters, func(a, b Cluster) int {
		return cmp.Compare(a.Info().Name(), b.Info().Name())
	})
	return clusters
}

// AddCluster builds and starts one more cluster at runtime. Names are
// unique; adding an existing name is an error, not a replacement.
func (m *Manager) AddCluster(cfg config.Cluster) (Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addLocked(cfg); err != nil {
		return nil, err
	}
	m.logger.Info().Str("cluster", cfg.Name).Str("type", string(cfg.Type)).Msg("cluster added")
	return m.clusters[cfg.Name].cluster, nil
}

// RemoveCluster stops and drops the named cluster and its metric
// series.
func (m *Manager) RemoveCluster(name string) error {
	m.mu.Lock()
	entry, ok := m.clusters[name]
	if ok {
		delete(m.clusters, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("cluster %q not found", name)
	}
	err := entry.close()
	m.metrics.removeCluster(name)
	m.logger.Info().Str("cluster", name).Msg("cluster removed")
	return err
}

// WaitReady blocks until every cluster present when it was called has
// completed its first discovery pass, or ctx ends.
func (m *Manager) WaitReady(ctx context.Context) error {
	for _, cluster := range m.Clusters() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for cluster %q: %w", cluster.Info().Name(), ctx.Err())
		case <-cluster.Initialized():
		}
	}
	return nil
}

// Ready reports whether every current cluster has initialized.
func (m *Manager) Ready() bool {
	for _, cluster := range m.Clusters() {
		select {
		case <-cluster.Initialized():
		default:
			return false
		}
	}
	return true
}

// Close tears all clusters down concurrently.
func (m *Manager) Close() error {
	m.mu.Lock()
	entries := make([]*managedCluster, 0, len(m.clusters))
	for _, entry := range m.clusters {
		entries = append(entries, entry)
	}
	m.clusters = make(map[string]*managedCluster)
	m.mu.Unlock()

	var group errgroup.Group
	for _, entry := range entries {
		group.Go(entry.close)
	}
	return group.Wait()
}

func (m *Manager) addLocked(cfg config.Cluster) error {
	if _, exists := m.clusters[cfg.Name]; exists {
		return fmt.Errorf("cluster %q already exists", cfg.Name)
	}

	entry := &managedCluster{}
	copts := ClusterOptions{
		Logger:    m.logger,
		Clock:     m.opts.Clock,
		Metrics:   m.metrics,
		HostCache: m.opts.HostCache,
	}
	if m.opts.NewResolver != nil {
		copts.Resolver = m.opts.NewResolver(cfg)
	}
	if cfg.Type == config.ClusterEDS {
		source, closer, err := m.newSource(cfg)
		if err != nil {
			return err
		}
		copts.Source = source
		if closer != nil {
			entry.closers = append(entry.closers, closer)
		}
	}

	cluster, err := NewCluster(cfg, copts)
	if err != nil {
		_ = entry.close()
		return err
	}
	name := cfg.Name
	cluster.AddMemberUpdateCb(func(added, removed []*Host) {
		if len(added) == 0 && len(removed) == 0 {
			return
		}
		m.logger.Info().
			Str("cluster", name).
			Int("added", len(added)).
			Int("removed", len(removed)).
			Msg("cluster membership updated")
	})
	entry.cluster = cluster
	m.clusters[cfg.Name] = entry
	return nil
}

func (m *Manager) newSource(cfg config.Cluster) (discovery.Source, io.Closer, error) {
	if m.opts.NewSource != nil {
		source, err := m.opts.NewSource(cfg)
		return source, nil, err
	}
	etcdCfg := cfg.EDSConfig.Etcd
	client, err := discovery.DialEtcd(etcdCfg.Endpoints, etcdCfg.DialTimeout())
	if err != nil {
		return nil, nil, fmt.Errorf("cluster %q: dial etcd: %w", cfg.Name, err)
	}
	return discovery.NewEtcdSource(client, etcdCfg.Prefix, m.logger), client, nil
}
