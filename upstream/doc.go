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

// Package upstream manages named clusters of upstream hosts: where
// membership comes from, which members may receive traffic, and the
// per-cluster settings that govern connections to them.
//
// A Cluster learns its membership in one of several ways. Static
// clusters list addresses in configuration. Strict DNS clusters
// re-resolve every configured hostname on a timer and treat the union
// of the answers as authoritative. Logical DNS clusters track a single
// hostname but expose exactly one member whose connection target
// follows the most recent answer. EDS clusters subscribe to an
// external endpoint source and apply full replacement sets as they
// arrive.
//
// However membership is discovered, updates flow through one
// reconciliation: addresses are the identity key, a rediscovered
// address keeps its existing Host object and accumulated health state,
// and subscribers hear only about genuine population changes. Readers
// get host lists from an atomically swapped snapshot, so no lock is
// taken on the read path and a reader never observes a half-applied
// update.
//
// Health is layered on top. An active health checker probes members
// and flips them out of the healthy subset after consecutive failures;
// a passive outlier detector ejects members whose reported request
// outcomes breach an error streak, for progressively longer spells.
// Both mark flags on the Host, and the cluster recomputes its healthy
// subsets whenever a flag flips.
//
// A Manager owns the collection of clusters described by a bootstrap
// configuration, supports runtime add and remove, and aggregates
// readiness and metrics.
package upstream
