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

import "sync/atomic"

// Priority selects which circuit-breaker budget work is admitted
// against.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityHigh

	// NumPriorities is the size of the closed priority set.
	NumPriorities = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityDefault:
		return "default"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Resource is one circuit-breaker counter with a fixed ceiling. The
// admission path consults CanCreate before admitting work and pairs
// every Inc with a Dec when the work retires; the counter itself never
// rejects.
type Resource struct {
	current atomic.Uint64
	max     uint64
}

// CanCreate reports whether admitting one more unit would stay at or
// under the ceiling.
func (r *Resource) CanCreate() bool { return r.current.Load() < r.max }

// Inc admits one unit.
func (r *Resource) Inc() { r.current.Add(1) }

// Dec retires one unit. Calls must pair with a prior Inc.
func (r *Resource) Dec() { r.current.Add(^uint64(0)) }

// Count returns the live count.
func (r *Resource) Count() uint64 { return r.current.Load() }

// Max returns the ceiling.
func (r *Resource) Max() uint64 { return r.max }

// ResourceManager holds the four circuit-breaker resources of one
// (cluster, priority) pair. Limits are fixed at construction;
// reconfiguring them means constructing a replacement cluster.
type ResourceManager struct {
	connections     Resource
	pendingRequests Resource
	requests        Resource
	retries         Resource
}

// NewResourceManager builds a manager with the given ceilings.
func NewResourceManager(maxConnections, maxPendingRequests, maxRequests, maxRetries uint64) *ResourceManager {
	m := &ResourceManager{}
	m.connections.max = maxConnections
	m.pendingRequests.max = maxPendingRequests
	m.requests.max = maxRequests
	m.retries.max = maxRetries
	return m
}

// Connections is the budget for open upstream connections.
func (m *ResourceManager) Connections() *Resource { return &m.connections }

// PendingRequests is the budget for requests waiting on a connection.
func (m *ResourceManager) PendingRequests() *Resource { return &m.pendingRequests }

// Requests is the budget for active requests.
func (m *ResourceManager) Requests() *Resource { return &m.requests }

// Retries is the budget for concurrently outstanding retries.
func (m *ResourceManager) Retries() *Resource { return &m.retries }
