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

// Package clocktest adapts clockwork's fake clock to the internal.Clock
// interface so tests can drive DNS refreshes, health check rounds, and
// ejection sweeps deterministically. The adapter exists because Go
// compares interface method signatures nominally: clockwork's NewTimer
// and NewTicker return clockwork's own interfaces, so those two methods
// must be re-boxed to return ours even though the method sets are
// structurally identical.
package clocktest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/surki/envoy/internal"
)

// FakeClock is a Clock whose time moves only when a test calls Advance.
// A timer registers as a waiter only while armed, so BlockUntilContext
// doubles as a round boundary for the refresh and check loops, which
// arm their next timer after each completed pass.
type FakeClock interface {
	internal.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, waiters int) error
}

// NewFakeClock returns a FakeClock backed by clockwork.
func NewFakeClock() FakeClock {
	return fakeClock{clockwork.NewFakeClock()}
}

type fakeClock struct {
	*clockwork.FakeClock
}

var _ FakeClock = fakeClock{}

// NewTimer re-boxes the clockwork timer as an internal.Timer.
func (f fakeClock) NewTimer(d time.Duration) internal.Timer {
	return f.FakeClock.NewTimer(d)
}

// NewTicker re-boxes the clockwork ticker as an internal.Ticker.
func (f fakeClock) NewTicker(d time.Duration) internal.Ticker {
	return f.FakeClock.NewTicker(d)
}
