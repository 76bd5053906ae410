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

	"github.com/surki/envoy/attribute"
	"github.com/surki/envoy/discovery"
)

// edsCluster consumes full endpoint sets from a discovery source.
// Every received batch replaces the membership wholesale through the
// same reconciliation as DNS clusters, so host identity and health
// state survive across batches that keep an address.
type edsCluster struct {
	*baseCluster

	source discovery.Source

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// hosts is the held list the last batch reconciled into. Guarded
	// by mu.
	hosts []*Host
}

func newEDSCluster(base *baseCluster, source discovery.Source) *edsCluster {
	ctx, cancel := context.WithCancel(context.Background())
	return &edsCluster{
		baseCluster: base,
		source:      source,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// start subscribes to the source. A source that cannot even establish
// its watch fails cluster construction outright rather than serving an
// empty cluster that looks healthy.
func (c *edsCluster) start() error {
	ch, err := c.source.Watch(c.ctx)
	if err != nil {
		close(c.done)
		return err
	}
	go c.run(ch)
	return nil
}

func (c *edsCluster) Close() error {
	c.cancel()
	<-c.done
	return c.closeBindings()
}

func (c *edsCluster) run(ch <-chan []discovery.Endpoint) {
	defer close(c.done)
	for endpoints := range ch {
		c.applyEndpoints(endpoints)
	}
	if c.ctx.Err() == nil {
		c.logger.Warn().Msg("endpoint stream ended")
	}
}

func (c *edsCluster) applyEndpoints(endpoints []discovery.Endpoint) {
	c.info.stats.updateAttempts.Inc()

	newHosts := make([]*Host, 0, len(endpoints))
	for _, ep := range endpoints {
		newHosts = append(newHosts, NewHost(c.info, ep.Address, HostOptions{
			Zone:     ep.Zone,
			Weight:   ep.Weight,
			Metadata: endpointMetadata(ep),
		}))
	}

	c.mu.Lock()
	upd := updateDynamicHostList(newHosts, c.hosts, c.healthChecker != nil)
	c.hosts = upd.hosts
	c.info.stats.maxHostWeight.Set(float64(upd.maxWeight))
	if upd.changed {
		c.publishLocked(upd.hosts, upd.added, upd.removed)
	}
	c.mu.Unlock()

	c.info.stats.updateSuccesses.Inc()
	c.markInitialized()
}

func endpointMetadata(ep discovery.Endpoint) attribute.Values {
	var values []attribute.Value
	if ep.Canary {
		values = append(values, CanaryKey.Value(true))
	}
	if len(ep.Metadata) > 0 {
		values = append(values, LabelsKey.Value(ep.Metadata))
	}
	return attribute.NewValues(values...)
}
