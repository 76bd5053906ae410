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

// hostListUpdate is the outcome of one reconciliation pass.
type hostListUpdate struct {
	// hosts is the replacement held list: rediscovered hosts in
	// discovery order, then any retained stragglers.
	hosts   []*Host
	added   []*Host
	removed []*Host
	// changed is true iff membership population differs: something was
	// added or removed. Weight-only updates do not count.
	changed bool
	// maxWeight is the highest weight across the surviving hosts, at
	// least MinHostWeight.
	maxWeight uint32
}

// updateDynamicHostList merges a freshly discovered host list into the
// currently held list. Address equality is the sole identity key:
// a rediscovered address keeps its existing Host object (preserving
// accumulated health state) and only takes the new weight. Duplicate
// addresses in the discovered list are dropped after the first
// occurrence.
//
// With dependOnHealthCheck set, newly added hosts start failed (they
// must pass an active check before entering the healthy subset), and a
// held host missing from the discovered list is retained as long as it
// is passing checks. A single empty or partial resolution therefore
// cannot eject hosts that are demonstrably alive.
//
// The scan is quadratic in list sizes on purpose; host lists are tens
// to low hundreds of entries and the simple form keeps identity
// handling obvious.
func updateDynamicHostList(newHosts, currentHosts []*Host, dependOnHealthCheck bool) hostListUpdate {
	maxWeight := uint32(MinHostWeight)
	finalHosts := make([]*Host, 0, len(newHosts))
	current := make([]*Host, len(currentHosts))
	copy(current, currentHosts)

	var added []*Host
	seen := make(map[string]struct{}, len(newHosts))
	for _, host := range newHosts {
		if _, dup := seen[host.Address()]; dup {
			continue
		}
		seen[host.Address()] = struct{}{}

		found := false
		for i, existing := range current {
			if existing.Address() == host.Address() {
				maxWeight = max(maxWeight, host.Weight())
				existing.SetWeight(host.Weight())
				finalHosts = append(finalHosts, existing)
				current = append(current[:i], current[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			maxWeight = max(maxWeight, host.Weight())
			if dependOnHealthCheck {
				host.HealthFlagSet(FailedActiveHealthCheck)
			}
			finalHosts = append(finalHosts, host)
			added = append(added, host)
		}
	}

	// Hosts not rediscovered this pass. When health checking owns the
	// host's fate, keep the ones that are still passing checks.
	if dependOnHealthCheck {
		remaining := current[:0]
		for _, existing := range current {
			if !existing.HealthFlagGet(FailedActiveHealthCheck) {
				maxWeight = max(maxWeight, existing.Weight())
				finalHosts = append(finalHosts, existing)
			} else {
				remaining = append(remaining, existing)
			}
		}
		current = remaining
	}

	return hostListUpdate{
		hosts:     finalHosts,
		added:     added,
		removed:   current,
		changed:   len(added) > 0 || len(current) > 0,
		maxWeight: maxWeight,
	}
}
