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

import "github.com/surki/envoy/config"

// staticCluster serves a fixed membership: the configured addresses,
// published once at startup. Health checking and outlier detection
// still adjust the healthy subset afterwards.
type staticCluster struct {
	*baseCluster
	hosts []*Host
}

func newStaticCluster(cfg config.Cluster, base *baseCluster) *staticCluster {
	hosts := make([]*Host, 0, len(cfg.Hosts))
	for _, addr := range cfg.Hosts {
		hosts = append(hosts, NewHost(base.info, addr, HostOptions{}))
	}
	return &staticCluster{baseCluster: base, hosts: hosts}
}

func (c *staticCluster) start() error {
	c.mu.Lock()
	c.publishLocked(c.hosts, c.hosts, nil)
	c.mu.Unlock()
	c.markInitialized()
	return nil
}

func (c *staticCluster) Close() error {
	return c.closeBindings()
}

// originalDstCluster has no discovered membership at all. Hosts for it
// materialize per connection from the client's original destination
// address, which happens in the data path, so the cluster publishes an
// empty list and is immediately initialized.
type originalDstCluster struct {
	*baseCluster
}

func newOriginalDstCluster(base *baseCluster) *originalDstCluster {
	return &originalDstCluster{baseCluster: base}
}

func (c *originalDstCluster) start() error {
	c.mu.Lock()
	c.publishLocked(nil, nil, nil)
	c.mu.Unlock()
	c.markInitialized()
	return nil
}

func (c *originalDstCluster) Close() error {
	return c.closeBindings()
}
