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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/surki/envoy/config"
)

func newTestInfo(t *testing.T, name string) *ClusterInfo {
	t.Helper()
	cfg := config.Cluster{Name: name, Type: config.ClusterStatic, ConnectTimeoutMs: 250}
	return newClusterInfo(cfg, NewMetrics(prometheus.NewRegistry()))
}

func newTestHosts(info *ClusterInfo, addrs ...string) []*Host {
	hosts := make([]*Host, 0, len(addrs))
	for _, addr := range addrs {
		hosts = append(hosts, NewHost(info, addr, HostOptions{}))
	}
	return hosts
}

func hostAddrs(hosts []*Host) []string {
	addrs := make([]string, 0, len(hosts))
	for _, host := range hosts {
		addrs = append(addrs, host.Address())
	}
	return addrs
}

func waitInitialized(t *testing.T, cluster Cluster) {
	t.Helper()
	select {
	case <-cluster.Initialized():
	case <-time.After(5 * time.Second):
		t.Fatal("cluster never initialized")
	}
}

// memberUpdate is one membership callback, reduced to addresses for
// easy assertions.
type memberUpdate struct {
	added   []string
	removed []string
}

func recordUpdates(cluster Cluster) <-chan memberUpdate {
	ch := make(chan memberUpdate, 16)
	cluster.AddMemberUpdateCb(func(added, removed []*Host) {
		ch <- memberUpdate{added: hostAddrs(added), removed: hostAddrs(removed)}
	})
	return ch
}

func nextUpdate(t *testing.T, ch <-chan memberUpdate) memberUpdate {
	t.Helper()
	select {
	case update := <-ch:
		return update
	case <-time.After(5 * time.Second):
		t.Fatal("no membership update arrived")
		return memberUpdate{}
	}
}
