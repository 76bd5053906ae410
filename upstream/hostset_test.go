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
	"slices"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostSetSnapshot(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "snapshot")
	hs := newHostSet(zerolog.Nop())

	assert.Empty(t, hs.Hosts())
	assert.Empty(t, hs.HealthyHosts())

	hosts := newTestHosts(info, "10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80")
	hosts[1].HealthFlagSet(FailedActiveHealthCheck)
	hs.publish(newSnapshot(hosts), hosts, nil)

	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80"}, hostAddrs(hs.Hosts()))
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.3:80"}, hostAddrs(hs.HealthyHosts()))
}

func TestHostSetZonePartitions(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "zones")
	hs := newHostSet(zerolog.Nop())

	hosts := []*Host{
		NewHost(info, "10.0.0.1:80", HostOptions{Zone: "us-east-1b"}),
		NewHost(info, "10.0.0.2:80", HostOptions{Zone: "us-east-1a"}),
		NewHost(info, "10.0.0.3:80", HostOptions{Zone: "us-east-1b"}),
		NewHost(info, "10.0.0.4:80", HostOptions{}),
	}
	hosts[1].HealthFlagSet(FailedOutlierCheck)
	hs.publish(newSnapshot(hosts), hosts, nil)

	perZone := hs.HostsPerZone()
	require.Len(t, perZone, 3, "zones appear in first-seen order, including the unzoned group")
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.3:80"}, hostAddrs(perZone[0]))
	assert.Equal(t, []string{"10.0.0.2:80"}, hostAddrs(perZone[1]))
	assert.Equal(t, []string{"10.0.0.4:80"}, hostAddrs(perZone[2]))

	healthyPerZone := hs.HealthyHostsPerZone()
	require.Len(t, healthyPerZone, 3, "healthy partition stays parallel to the full one")
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.3:80"}, hostAddrs(healthyPerZone[0]))
	assert.Empty(t, healthyPerZone[1], "a zone with no healthy hosts keeps its slot")
	assert.Equal(t, []string{"10.0.0.4:80"}, hostAddrs(healthyPerZone[2]))
}

func TestHostSetCallbacksSeeNewSnapshot(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "callbacks")
	hs := newHostSet(zerolog.Nop())

	var observed []string
	hs.AddMemberUpdateCb(func(added, removed []*Host) {
		observed = hostAddrs(hs.Hosts())
		assert.Len(t, added, 2)
		assert.Empty(t, removed)
	})

	hosts := newTestHosts(info, "10.0.0.1:80", "10.0.0.2:80")
	hs.publish(newSnapshot(hosts), hosts, nil)

	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80"}, observed,
		"the snapshot must be stored before callbacks run")
}

func TestHostSetConcurrentReaders(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "concurrent")
	hs := newHostSet(zerolog.Nop())

	// Two generations with different sizes and address prefixes: any
	// read mixing them matches neither expected view.
	first := newTestHosts(info, "10.0.1.1:80", "10.0.1.2:80", "10.0.1.3:80")
	first[1].HealthFlagSet(FailedActiveHealthCheck)
	second := newTestHosts(info, "10.0.2.1:80", "10.0.2.2:80")
	firstSnap, secondSnap := newSnapshot(first), newSnapshot(second)
	hs.publish(firstSnap, first, nil)

	wantHosts := [][]string{hostAddrs(first), hostAddrs(second)}
	wantHealthy := [][]string{
		{"10.0.1.1:80", "10.0.1.3:80"},
		{"10.0.2.1:80", "10.0.2.2:80"},
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hosts := hostAddrs(hs.Hosts())
				if !slices.Equal(hosts, wantHosts[0]) && !slices.Equal(hosts, wantHosts[1]) {
					assert.Failf(t, "torn host list", "observed %v", hosts)
					return
				}
				healthy := hostAddrs(hs.HealthyHosts())
				if !slices.Equal(healthy, wantHealthy[0]) && !slices.Equal(healthy, wantHealthy[1]) {
					assert.Failf(t, "torn healthy list", "observed %v", healthy)
					return
				}
			}
		}()
	}

	for i := range 500 {
		if i%2 == 0 {
			hs.publish(secondSnap, second, first)
		} else {
			hs.publish(firstSnap, first, second)
		}
	}
	close(stop)
	wg.Wait()
}

func TestHostSetCallbackPanicContained(t *testing.T) {
	t.Parallel()
	info := newTestInfo(t, "panics")
	hs := newHostSet(zerolog.Nop())

	secondRan := false
	hs.AddMemberUpdateCb(func(added, removed []*Host) {
		panic("bad subscriber")
	})
	hs.AddMemberUpdateCb(func(added, removed []*Host) {
		secondRan = true
	})

	hosts := newTestHosts(info, "10.0.0.1:80")
	hs.publish(newSnapshot(hosts), hosts, nil)

	assert.True(t, secondRan, "one misbehaving subscriber must not starve the rest")
	assert.Len(t, hs.Hosts(), 1)
}
