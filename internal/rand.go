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

package internal

import (
	"hash/maphash"
	"math/rand"
	"time"
)

// NewRand returns a seeded *rand.Rand for a single goroutine's use.
// Each health check session carries its own so interval jitter never
// contends on the global generator's lock. The seed comes from
// "hash/maphash", which draws on the runtime's per-thread RNG without
// any synchronization.
//
// The returned value is not safe for concurrent use.
func NewRand() *rand.Rand {
	var h maphash.Hash
	return rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // jitter does not need a cryptographic source
}

// Jitter returns a random duration in [0, bound). Bounds of zero or
// less return zero, so an unset config value can be passed straight
// through.
func Jitter(rnd *rand.Rand, bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rnd.Int63n(int64(bound)))
}
