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
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/surki/envoy/config"
	"github.com/surki/envoy/internal"
)

// degradedHeader in a passing health check response marks the host
// degraded without failing it.
const degradedHeader = "X-Envoy-Degraded"

// HostStatusCb is invoked after every completed check on a host.
// changedState is true only when the check flipped the host's
// FailedActiveHealthCheck flag.
type HostStatusCb func(host *Host, changedState bool)

// HostSource is the membership view a health checker or outlier
// detector works against: the current hosts plus a subscription for
// keeping up with churn.
type HostSource interface {
	Hosts() []*Host
	AddMemberUpdateCb(cb HostUpdateCb)
}

// HealthChecker actively probes hosts and owns their
// FailedActiveHealthCheck flag.
type HealthChecker interface {
	// Start begins checking the source's current hosts and follows
	// membership updates from then on.
	Start(hosts HostSource)
	// AddHostCheckCompleteCb subscribes to check completions.
	AddHostCheckCompleteCb(cb HostStatusCb)
	// Close stops all check sessions and waits for them to drain.
	Close() error
}

// pollingHealthChecker runs one probe loop per host. A host must fail
// unhealthy_threshold consecutive checks to be marked failed and pass
// healthy_threshold consecutive checks to recover, so a single blip in
// either direction moves nothing.
type pollingHealthChecker struct {
	cfg    config.HealthCheck
	logger zerolog.Logger
	clock  internal.Clock
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	sessions  map[*Host]*checkSession
	callbacks []HostStatusCb
}

// checkSession is one host's probe loop. The streak counters are only
// touched by the session's own goroutine.
type checkSession struct {
	host   *Host
	cancel context.CancelFunc

	successes uint32
	failures  uint32
}

func newPollingHealthChecker(cfg config.HealthCheck, logger zerolog.Logger, clock internal.Clock) *pollingHealthChecker {
	ctx, cancel := context.WithCancel(context.Background())
	return &pollingHealthChecker{
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		client:   &http.Client{},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Host]*checkSession),
	}
}

func (h *pollingHealthChecker) Start(hosts HostSource) {
	hosts.AddMemberUpdateCb(func(added, removed []*Host) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, host := range added {
			h.startSessionLocked(host)
		}
		for _, host := range removed {
			h.stopSessionLocked(host)
		}
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, host := range hosts.Hosts() {
		h.startSessionLocked(host)
	}
}

func (h *pollingHealthChecker) AddHostCheckCompleteCb(cb HostStatusCb) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

func (h *pollingHealthChecker) Close() error {
	h.cancel()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

func (h *pollingHealthChecker) startSessionLocked(host *Host) {
	if h.closed {
		return
	}
	if _, exists := h.sessions[host]; exists {
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	sess := &checkSession{host: host, cancel: cancel}
	h.sessions[host] = sess
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runSession(ctx, sess)
	}()
}

func (h *pollingHealthChecker) stopSessionLocked(host *Host) {
	if sess, exists := h.sessions[host]; exists {
		delete(h.sessions, host)
		sess.cancel()
	}
}

// runSession checks immediately, then re-arms with the jittered
// interval after each completion. The timer is only ever Reset after
// its channel has been received from, so no drain is needed.
func (h *pollingHealthChecker) runSession(ctx context.Context, sess *checkSession) {
	rnd := internal.NewRand()
	var timer internal.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		ok := h.probe(ctx, sess.host)
		if ctx.Err() != nil {
			return
		}
		h.applyResult(sess, ok)
		if timer == nil {
			timer = h.clock.NewTimer(h.checkInterval(rnd))
		} else {
			timer.Reset(h.checkInterval(rnd))
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}
	}
}

func (h *pollingHealthChecker) checkInterval(rnd *rand.Rand) time.Duration {
	return h.cfg.Interval() + internal.Jitter(rnd, h.cfg.IntervalJitter())
}

func (h *pollingHealthChecker) probe(ctx context.Context, host *Host) bool {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout())
	defer cancel()
	if h.cfg.Protocol == "tcp" {
		return h.probeTCP(ctx, host)
	}
	return h.probeHTTP(ctx, host)
}

func (h *pollingHealthChecker) probeTCP(ctx context.Context, host *Host) bool {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", host.Target())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// probeHTTP treats any 2xx as passing. A passing response may carry
// the degraded header to flag the host degraded without failing it.
func (h *pollingHealthChecker) probeHTTP(ctx context.Context, host *Host) bool {
	scheme := "http"
	if host.Cluster().TLS() {
		scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host.Target()+h.cfg.Path, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok {
		if resp.Header.Get(degradedHeader) != "" {
			host.HealthFlagSet(Degraded)
		} else {
			host.HealthFlagClear(Degraded)
		}
	}
	return ok
}

// applyResult folds one check outcome into the host's streaks and
// flips the failed flag at the configured thresholds.
func (h *pollingHealthChecker) applyResult(sess *checkSession, ok bool) {
	host := sess.host
	changed := false
	if ok {
		sess.failures = 0
		if host.HealthFlagGet(FailedActiveHealthCheck) {
			sess.successes++
			if sess.successes >= h.cfg.HealthyThreshold {
				host.HealthFlagClear(FailedActiveHealthCheck)
				sess.successes = 0
				changed = true
				h.logger.Info().Str("host", host.Address()).Msg("host passed health check")
			}
		}
	} else {
		sess.successes = 0
		if !host.HealthFlagGet(FailedActiveHealthCheck) {
			sess.failures++
			if sess.failures >= h.cfg.UnhealthyThreshold {
				host.HealthFlagSet(FailedActiveHealthCheck)
				sess.failures = 0
				changed = true
				h.logger.Warn().Str("host", host.Address()).Msg("host failed health check")
			}
		}
	}
	h.fireCallbacks(host, changed)
}

// fireCallbacks snapshots the callback list under mu and invokes it
// unlocked, so a callback may re-enter the checker or take cluster
// locks without deadlocking.
func (h *pollingHealthChecker) fireCallbacks(host *Host, changed bool) {
	h.mu.Lock()
	callbacks := make([]HostStatusCb, len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()
	for _, cb := range callbacks {
		cb(host, changed)
	}
}
