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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/internal"
)

// OutlierDetector passively ejects hosts based on the request outcomes
// the data path reports, and owns their FailedOutlierCheck flag.
type OutlierDetector interface {
	// Start begins tracking the source's current hosts and follows
	// membership updates from then on.
	Start(hosts HostSource)
	// ReportResult records one request outcome against a host.
	ReportResult(host *Host, success bool)
	// AddChangedStateCb subscribes to ejection and recovery events.
	AddChangedStateCb(cb func(host *Host))
	// Close stops the recovery sweep.
	Close() error
}

// Detector implements OutlierDetector with consecutive-error
// ejection. A host reaching the configured error streak is ejected for
// base_ejection_time multiplied by how often it has been ejected
// before, so a repeat offender stays out progressively longer. The
// ejection percent cap is checked before ejecting, which intentionally
// lets the total overshoot the cap by one host.
type Detector struct {
	cfg    config.OutlierDetection
	logger zerolog.Logger
	clock  internal.Clock

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	tracked   map[*Host]*outlierState
	ejected   int
	callbacks []func(host *Host)
}

// outlierState is per-host detector bookkeeping, guarded by the
// detector's mu.
type outlierState struct {
	consecutiveErrors uint32
	numEjections      uint32
	ejected           bool
	ejectionExpiry    time.Time
}

// NewDetector builds a detector with cfg's thresholds. Start it
// against a cluster before reporting results.
func NewDetector(cfg config.OutlierDetection, logger zerolog.Logger, clock internal.Clock) *Detector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Detector{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		tracked: make(map[*Host]*outlierState),
	}
}

func (d *Detector) Start(hosts HostSource) {
	hosts.AddMemberUpdateCb(func(added, removed []*Host) {
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, host := range added {
			if _, ok := d.tracked[host]; !ok {
				d.tracked[host] = &outlierState{}
			}
		}
		for _, host := range removed {
			if state, ok := d.tracked[host]; ok {
				if state.ejected {
					d.ejected--
				}
				delete(d.tracked, host)
			}
		}
	})

	d.mu.Lock()
	for _, host := range hosts.Hosts() {
		if _, ok := d.tracked[host]; !ok {
			d.tracked[host] = &outlierState{}
		}
	}
	d.started = true
	d.mu.Unlock()

	go d.run()
}

func (d *Detector) AddChangedStateCb(cb func(host *Host)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, cb)
}

func (d *Detector) Close() error {
	d.cancel()
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.done
	}
	return nil
}

// ReportResult feeds one request outcome into the host's error streak.
// A success clears the streak; the error that completes the streak
// triggers an ejection decision, and the streak restarts whether or
// not the host was actually ejected.
func (d *Detector) ReportResult(host *Host, success bool) {
	var ejections uint32
	var expiry time.Time
	notify := false

	d.mu.Lock()
	state := d.tracked[host]
	if state == nil {
		// The data path can race ahead of membership updates; results
		// for hosts we no longer track are dropped.
		d.mu.Unlock()
		return
	}
	if success {
		state.consecutiveErrors = 0
		d.mu.Unlock()
		return
	}
	state.consecutiveErrors++
	if state.consecutiveErrors >= d.cfg.Errors() && !state.ejected {
		if d.canEjectLocked() {
			state.ejected = true
			state.numEjections++
			state.ejectionExpiry = d.clock.Now().Add(time.Duration(state.numEjections) * d.cfg.BaseEjectionTime())
			d.ejected++
			host.HealthFlagSet(FailedOutlierCheck)
			ejections, expiry = state.numEjections, state.ejectionExpiry
			notify = true
		}
		state.consecutiveErrors = 0
	}
	d.mu.Unlock()

	if notify {
		d.logger.Warn().
			Str("host", host.Address()).
			Uint32("ejections", ejections).
			Time("until", expiry).
			Msg("host ejected")
		d.fireChanged(host)
	}
}

func (d *Detector) canEjectLocked() bool {
	if len(d.tracked) == 0 {
		return false
	}
	return 100*d.ejected/len(d.tracked) < int(d.cfg.EjectionPercent())
}

func (d *Detector) run() {
	defer close(d.done)
	ticker := d.clock.NewTicker(d.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.Chan():
			d.sweep()
		}
	}
}

// sweep returns hosts whose ejection time has run out to service.
func (d *Detector) sweep() {
	now := d.clock.Now()
	var recovered []*Host

	d.mu.Lock()
	for host, state := range d.tracked {
		if state.ejected && !state.ejectionExpiry.After(now) {
			state.ejected = false
			d.ejected--
			host.HealthFlagClear(FailedOutlierCheck)
			recovered = append(recovered, host)
		}
	}
	d.mu.Unlock()

	for _, host := range recovered {
		d.logger.Info().Str("host", host.Address()).Msg("host unejected")
		d.fireChanged(host)
	}
}

func (d *Detector) fireChanged(host *Host) {
	d.mu.Lock()
	callbacks := make([]func(host *Host), len(d.callbacks))
	copy(callbacks, d.callbacks)
	d.mu.Unlock()
	for _, cb := range callbacks {
		cb(host)
	}
}
