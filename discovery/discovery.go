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

// Package discovery defines the watch-based endpoint source consumed by
// dynamic-discovery clusters, plus an etcd-backed implementation. A
// source emits complete endpoint sets (never deltas); the consuming
// cluster reconciles each set against its held hosts.
package discovery

import "context"

// Endpoint is one backend as reported by a discovery source.
type Endpoint struct {
	// Address is the "ip:port" the data plane dials.
	Address string `json:"address"`
	// Zone is the locality label used for zone-aware partitions.
	Zone string `json:"zone,omitempty"`
	// Weight is the relative load share, clamped by the consumer.
	Weight uint32 `json:"weight,omitempty"`
	// Canary marks endpoints serving a canary deployment.
	Canary bool `json:"canary,omitempty"`
	// Metadata carries any further labels the deployment attaches.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source streams endpoint sets for one cluster.
//
// Watch returns a channel that yields the current complete endpoint set,
// then a new complete set whenever membership data changes. The first
// value must be available without waiting for a change. The channel is
// closed when ctx is cancelled; transient backend failures are the
// source's concern to retry internally and must not close the channel.
type Source interface {
	Watch(ctx context.Context) (<-chan []Endpoint, error)
}
