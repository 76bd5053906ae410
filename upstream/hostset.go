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
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// HostUpdateCb observes membership changes. It runs synchronously
// inside a publish; implementations must not call back into cluster
// mutators and should return quickly.
type HostUpdateCb func(added, removed []*Host)

// hostSnapshot is one immutable published generation of a cluster's
// membership. Readers share the slices; nothing mutates a snapshot
// after publication.
type hostSnapshot struct {
	hosts               []*Host
	healthyHosts        []*Host
	hostsPerZone        [][]*Host
	healthyHostsPerZone [][]*Host
}

var emptySnapshot = &hostSnapshot{}

// HostSet is the published, copy-on-write view of a cluster's
// membership. Any number of goroutines read the current snapshot
// without blocking; the owning cluster is the only writer.
type HostSet struct {
	logger  zerolog.Logger
	current atomic.Pointer[hostSnapshot]

	cbMu      sync.Mutex
	callbacks []HostUpdateCb
}

func newHostSet(logger zerolog.Logger) *HostSet {
	hs := &HostSet{logger: logger}
	hs.current.Store(emptySnapshot)
	return hs
}

// Hosts returns every host in the latest published snapshot. The
// returned slice is shared and must not be modified.
func (hs *HostSet) Hosts() []*Host { return hs.current.Load().hosts }

// HealthyHosts returns the healthy subset of the latest published
// snapshot. The returned slice is shared and must not be modified.
func (hs *HostSet) HealthyHosts() []*Host { return hs.current.Load().healthyHosts }

// HostsPerZone returns the latest snapshot partitioned by zone, zones
// ordered by first appearance in the host list.
func (hs *HostSet) HostsPerZone() [][]*Host { return hs.current.Load().hostsPerZone }

// HealthyHostsPerZone returns the healthy subset per zone, parallel to
// HostsPerZone (a zone with no healthy hosts keeps its empty slot).
func (hs *HostSet) HealthyHostsPerZone() [][]*Host { return hs.current.Load().healthyHostsPerZone }

// AddMemberUpdateCb registers a membership listener. Listeners run in
// registration order on every publish; a health-only republish passes
// empty added and removed slices.
func (hs *HostSet) AddMemberUpdateCb(cb HostUpdateCb) {
	hs.cbMu.Lock()
	defer hs.cbMu.Unlock()
	hs.callbacks = append(hs.callbacks, cb)
}

// publish swaps the visible snapshot and then notifies listeners. A
// panicking listener is reported and does not stop the rest.
func (hs *HostSet) publish(snap *hostSnapshot, added, removed []*Host) {
	hs.current.Store(snap)

	hs.cbMu.Lock()
	callbacks := make([]HostUpdateCb, len(hs.callbacks))
	copy(callbacks, hs.callbacks)
	hs.cbMu.Unlock()

	for _, cb := range callbacks {
		hs.runCallback(cb, added, removed)
	}
}

func (hs *HostSet) runCallback(cb HostUpdateCb, added, removed []*Host) {
	defer func() {
		if r := recover(); r != nil {
			hs.logger.Error().Interface("panic", r).Msg("member update callback panicked")
		}
	}()
	cb(added, removed)
}

// filterHealthy returns the healthy subsequence of hosts.
func filterHealthy(hosts []*Host) []*Host {
	healthy := make([]*Host, 0, len(hosts))
	for _, host := range hosts {
		if host.Healthy() {
			healthy = append(healthy, host)
		}
	}
	return healthy
}

// partitionByZone groups hosts by zone, preserving the order zones
// first appear in. Hosts with an empty zone label group together under
// the empty zone.
func partitionByZone(hosts []*Host) [][]*Host {
	index := make(map[string]int)
	var zones [][]*Host
	for _, host := range hosts {
		i, ok := index[host.Zone()]
		if !ok {
			i = len(zones)
			index[host.Zone()] = i
			zones = append(zones, nil)
		}
		zones[i] = append(zones[i], host)
	}
	return zones
}

// filterHealthyPerZone filters each zone group in place-parallel form:
// the result has the same zone count and order, with unhealthy hosts
// dropped from each group.
func filterHealthyPerZone(perZone [][]*Host) [][]*Host {
	healthy := make([][]*Host, len(perZone))
	for i, zone := range perZone {
		healthy[i] = filterHealthy(zone)
	}
	return healthy
}

// newSnapshot derives a full snapshot from a host list.
func newSnapshot(hosts []*Host) *hostSnapshot {
	perZone := partitionByZone(hosts)
	return &hostSnapshot{
		hosts:               hosts,
		healthyHosts:        filterHealthy(hosts),
		hostsPerZone:        perZone,
		healthyHostsPerZone: filterHealthyPerZone(perZone),
	}
}
