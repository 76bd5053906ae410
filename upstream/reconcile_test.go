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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileInitialDiscovery(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "initial")
	newHosts := newTestHosts(info, "10.0.0.1:80", "10.0.0.2:80")

	upd := updateDynamicHostList(newHosts, nil, false)

	assert.True(t, upd.changed)
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80"}, hostAddrs(upd.hosts))
	assert.Equal(t, hostAddrs(upd.hosts), hostAddrs(upd.added))
	assert.Empty(t, upd.removed)
	assert.Equal(t, uint32(1), upd.maxWeight)
	for _, host := range upd.hosts {
		assert.False(t, host.HealthFlagGet(FailedActiveHealthCheck))
	}
}

func TestReconcilePreservesIdentity(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "identity")
	existingA := NewHost(info, "10.0.0.1:80", HostOptions{})
	existingB := NewHost(info, "10.0.0.2:80", HostOptions{})
	current := []*Host{existingA, existingB}

	newHosts := []*Host{
		NewHost(info, "10.0.0.1:80", HostOptions{Weight: 50}),
		NewHost(info, "10.0.0.3:80", HostOptions{}),
	}
	upd := updateDynamicHostList(newHosts, current, false)

	require.True(t, upd.changed)
	require.Len(t, upd.hosts, 2)
	assert.Same(t, existingA, upd.hosts[0], "rediscovered address must keep its host object")
	assert.Equal(t, uint32(50), existingA.Weight(), "weight updates in place on the existing host")
	assert.Equal(t, []string{"10.0.0.3:80"}, hostAddrs(upd.added))
	require.Len(t, upd.removed, 1)
	assert.Same(t, existingB, upd.removed[0])
	assert.Equal(t, uint32(50), upd.maxWeight)
}

func TestReconcileWeightOnlyChange(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "weights")
	current := newTestHosts(info, "10.0.0.1:80", "10.0.0.2:80")

	newHosts := []*Host{
		NewHost(info, "10.0.0.1:80", HostOptions{Weight: 30}),
		NewHost(info, "10.0.0.2:80", HostOptions{Weight: 40}),
	}
	upd := updateDynamicHostList(newHosts, current, false)

	assert.False(t, upd.changed, "weight movement alone is not a membership change")
	assert.Empty(t, upd.added)
	assert.Empty(t, upd.removed)
	assert.Same(t, current[0], upd.hosts[0])
	assert.Same(t, current[1], upd.hosts[1])
	assert.Equal(t, uint32(30), current[0].Weight())
	assert.Equal(t, uint32(40), current[1].Weight())
	assert.Equal(t, uint32(40), upd.maxWeight)
}

func TestReconcileDuplicateAddresses(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "dups")
	newHosts := []*Host{
		NewHost(info, "10.0.0.1:80", HostOptions{Weight: 5}),
		NewHost(info, "10.0.0.1:80", HostOptions{Weight: 90}),
		NewHost(info, "10.0.0.2:80", HostOptions{}),
	}

	upd := updateDynamicHostList(newHosts, nil, false)

	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80"}, hostAddrs(upd.hosts))
	assert.Equal(t, uint32(5), upd.hosts[0].Weight(), "first occurrence wins")
	assert.Equal(t, uint32(5), upd.maxWeight)
}

func TestReconcileFlagsNewHostsWhenHealthChecked(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "pessimism")
	upd := updateDynamicHostList(newTestHosts(info, "10.0.0.1:80"), nil, true)

	require.Len(t, upd.added, 1)
	assert.True(t, upd.added[0].HealthFlagGet(FailedActiveHealthCheck),
		"a new host must pass a check before serving")
}

func TestReconcileRetainsPassingHosts(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "retention")
	passing := NewHost(info, "10.0.0.1:80", HostOptions{})
	failed := NewHost(info, "10.0.0.2:80", HostOptions{})
	failed.HealthFlagSet(FailedActiveHealthCheck)

	upd := updateDynamicHostList(newTestHosts(info, "10.0.0.3:80"), []*Host{passing, failed}, true)

	require.True(t, upd.changed)
	assert.Equal(t, []string{"10.0.0.3:80", "10.0.0.1:80"}, hostAddrs(upd.hosts),
		"discovered hosts first, retained stragglers after")
	require.Len(t, upd.removed, 1)
	assert.Same(t, failed, upd.removed[0], "only the host failing checks is dropped")
}

func TestReconcileEmptyResolutionKeepsPassingHosts(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "empty-answer")
	passing := NewHost(info, "10.0.0.1:80", HostOptions{})

	upd := updateDynamicHostList(nil, []*Host{passing}, true)

	assert.False(t, upd.changed, "an empty answer must not eject a host passing checks")
	assert.Empty(t, upd.added)
	assert.Empty(t, upd.removed)
	require.Len(t, upd.hosts, 1)
	assert.Same(t, passing, upd.hosts[0])
}

func TestReconcileWithoutHealthCheckRemovesMissing(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "no-hc")
	current := newTestHosts(info, "10.0.0.1:80")

	upd := updateDynamicHostList(nil, current, false)

	assert.True(t, upd.changed)
	assert.Empty(t, upd.hosts)
	require.Len(t, upd.removed, 1)
	assert.Same(t, current[0], upd.removed[0])
}

func TestReconcileEmptyBothSides(t *testing.T) {
	t.Parallel()
	upd := updateDynamicHostList(nil, nil, false)

	assert.False(t, upd.changed)
	assert.Empty(t, upd.hosts)
	assert.Equal(t, uint32(1), upd.maxWeight)
}

func TestReconcileMaxWeightTracksRetained(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "retained-weight")
	heavy := NewHost(info, "10.0.0.1:80", HostOptions{Weight: 80})

	upd := updateDynamicHostList(
		[]*Host{NewHost(info, "10.0.0.2:80", HostOptions{Weight: 5})},
		[]*Host{heavy},
		true,
	)

	assert.Equal(t, uint32(80), upd.maxWeight)
}
