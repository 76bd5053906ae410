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
	"sync/atomic"

	"github.com/surki/envoy/attribute"
)

// Weight bounds. Assigned weights outside this range are clamped, never
// rejected.
const (
	MinHostWeight = 1
	MaxHostWeight = 100
)

// HealthFlag is one bit of a host's health state.
type HealthFlag uint32

const (
	// FailedActiveHealthCheck is set while the active health checker
	// considers the host unhealthy. Hosts discovered by a cluster with
	// active checking bound start with this flag set.
	FailedActiveHealthCheck HealthFlag = 1 << iota

	// FailedOutlierCheck is set while the outlier detector has the host
	// ejected.
	FailedOutlierCheck

	// Degraded marks a host serving at reduced capacity. It does not
	// remove the host from the healthy set.
	Degraded
)

// CanaryKey marks canary hosts in host metadata.
var CanaryKey = attribute.NewKey[bool]()

// LabelsKey carries free-form deployment labels attached by a discovery
// source.
var LabelsKey = attribute.NewKey[map[string]string]()

// Host is one backend endpoint of a cluster. Its address is its
// identity and never changes; weight, health flags, and the dial target
// mutate in place under the owning cluster's update logic and may be
// read concurrently from any goroutine.
//
// A Host may be referenced by several published snapshots at once. It
// is reclaimed by the garbage collector once removed from the held list
// and unreferenced by every live snapshot.
type Host struct {
	info     *ClusterInfo
	address  string
	hostname string
	zone     string
	metadata attribute.Values

	weight atomic.Uint32
	flags  atomic.Uint32

	// target overrides the dial address for logical-DNS hosts; nil
	// means dial the identity address.
	target atomic.Pointer[string]
}

// HostOptions carries the optional construction attributes of a Host.
type HostOptions struct {
	// Hostname is the DNS name the host was resolved from, if any.
	Hostname string
	// Zone is the locality label used for zone-aware partitioning.
	Zone string
	// Weight is the initial relative load share, clamped to
	// [MinHostWeight, MaxHostWeight].
	Weight uint32
	// Metadata holds typed attributes such as CanaryKey or LabelsKey.
	Metadata attribute.Values
}

// NewHost creates a host owned by the given cluster. The address is the
// host's permanent identity, "ip:port" (or "hostname:port" for
// logical-DNS hosts).
func NewHost(info *ClusterInfo, address string, opts HostOptions) *Host {
	h := &Host{
		info:     info,
		address:  address,
		hostname: opts.Hostname,
		zone:     opts.Zone,
		metadata: opts.Metadata,
	}
	h.SetWeight(opts.Weight)
	return h
}

// Cluster returns the owning cluster's immutable view.
func (h *Host) Cluster() *ClusterInfo { return h.info }

// Address returns the host's identity address.
func (h *Host) Address() string { return h.address }

// Hostname returns the DNS name the host was resolved from, or "" for
// hosts that did not come from DNS.
func (h *Host) Hostname() string { return h.hostname }

// Zone returns the host's locality label, or "".
func (h *Host) Zone() string { return h.zone }

// Metadata returns the typed attributes attached at discovery.
func (h *Host) Metadata() attribute.Values { return h.metadata }

// Canary reports whether the host is marked as a canary in metadata.
func (h *Host) Canary() bool {
	canary, _ := attribute.GetValue(h.metadata, CanaryKey)
	return canary
}

// Weight returns the host's current relative load share.
func (h *Host) Weight() uint32 { return h.weight.Load() }

// SetWeight stores a new weight, clamped to [MinHostWeight,
// MaxHostWeight].
func (h *Host) SetWeight(weight uint32) {
	h.weight.Store(min(max(weight, MinHostWeight), MaxHostWeight))
}

// HealthFlagGet reports whether the given flag is set.
func (h *Host) HealthFlagGet(flag HealthFlag) bool {
	return h.flags.Load()&uint32(flag) != 0
}

// HealthFlagSet sets the given flag.
func (h *Host) HealthFlagSet(flag HealthFlag) {
	h.flags.Or(uint32(flag))
}

// HealthFlagClear clears the given flag.
func (h *Host) HealthFlagClear(flag HealthFlag) {
	h.flags.And(^uint32(flag))
}

// Healthy reports whether the host belongs in the healthy subset: no
// failed health check and no outlier ejection. Degraded does not affect
// the outcome.
func (h *Host) Healthy() bool {
	return h.flags.Load()&uint32(FailedActiveHealthCheck|FailedOutlierCheck) == 0
}

// Target returns the address the data plane should dial: the identity
// address unless the owning cluster has set a resolved override.
func (h *Host) Target() string {
	if t := h.target.Load(); t != nil {
		return *t
	}
	return h.address
}

// setTarget swaps the dial address. Only the owning logical-DNS cluster
// calls this; the host's identity is unaffected.
func (h *Host) setTarget(addr string) {
	h.target.Store(&addr)
}
