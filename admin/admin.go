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

// Package admin exposes the operational HTTP endpoint: cluster and host
// state, maintenance toggles, readiness, and metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/surki/envoy/upstream"
)

// Server serves the admin API for one cluster manager.
type Server struct {
	logger  zerolog.Logger
	manager *upstream.Manager
	srv     *http.Server
}

func NewServer(manager *upstream.Manager, logger zerolog.Logger) *Server {
	s := &Server{logger: logger, manager: manager}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /clusters", s.listClusters)
	mux.HandleFunc("GET /clusters/{name}", s.getCluster)
	mux.HandleFunc("POST /clusters/{name}/maintenance", s.setMaintenance)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /ready", s.ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(manager.Registry(), promhttp.HandlerOpts{}))
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the admin route table without the server wrapping.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("admin endpoint listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight admin requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ClusterStatus is the admin view of one cluster.
type ClusterStatus struct {
	Name             string                 `json:"name"`
	Type             string                 `json:"type"`
	LbPolicy         string                 `json:"lb_policy"`
	ConnectTimeoutMs int64                  `json:"connect_timeout_ms"`
	MaintenanceMode  bool                   `json:"maintenance_mode"`
	Initialized      bool                   `json:"initialized"`
	CircuitBreakers  []CircuitBreakerStatus `json:"circuit_breakers"`
	Hosts            []HostStatus           `json:"hosts"`
}

// CircuitBreakerStatus reports one priority's resource limits and live
// counts.
type CircuitBreakerStatus struct {
	Priority        string        `json:"priority"`
	Connections     ResourceUsage `json:"connections"`
	PendingRequests ResourceUsage `json:"pending_requests"`
	Requests        ResourceUsage `json:"requests"`
	Retries         ResourceUsage `json:"retries"`
}

type ResourceUsage struct {
	Active uint64 `json:"active"`
	Max    uint64 `json:"max"`
}

// HostStatus is the admin view of one cluster member.
type HostStatus struct {
	Address     string   `json:"address"`
	Target      string   `json:"target"`
	Hostname    string   `json:"hostname,omitempty"`
	Zone        string   `json:"zone,omitempty"`
	Weight      uint32   `json:"weight"`
	Canary      bool     `json:"canary,omitempty"`
	Healthy     bool     `json:"healthy"`
	HealthFlags []string `json:"health_flags,omitempty"`
}

// MaintenanceStatus acknowledges a maintenance toggle.
type MaintenanceStatus struct {
	Cluster         string `json:"cluster"`
	MaintenanceMode bool   `json:"maintenance_mode"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	clusters := s.manager.Clusters()
	statuses := make([]ClusterStatus, 0, len(clusters))
	for _, cluster := range clusters {
		statuses = append(statuses, clusterStatus(cluster))
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	cluster, ok := s.manager.Get(r.PathValue("name"))
	if !ok {
		http.Error(w, "cluster not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, clusterStatus(cluster))
}

func (s *Server) setMaintenance(w http.ResponseWriter, r *http.Request) {
	cluster, ok := s.manager.Get(r.PathValue("name"))
	if !ok {
		http.Error(w, "cluster not found", http.StatusNotFound)
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		http.Error(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}
	cluster.Info().SetMaintenanceMode(enabled)
	s.logger.Info().
		Str("cluster", cluster.Info().Name()).
		Bool("enabled", enabled).
		Msg("maintenance mode toggled")
	writeJSON(w, http.StatusOK, MaintenanceStatus{
		Cluster:         cluster.Info().Name(),
		MaintenanceMode: cluster.Info().MaintenanceMode(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// ready answers 503 until every cluster has completed its first
// discovery pass, so a rollout only routes here once membership is
// populated.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

func clusterStatus(cluster upstream.Cluster) ClusterStatus {
	info := cluster.Info()
	initialized := false
	select {
	case <-cluster.Initialized():
		initialized = true
	default:
	}

	breakers := make([]CircuitBreakerStatus, 0, upstream.NumPriorities)
	for p := upstream.Priority(0); p < upstream.NumPriorities; p++ {
		rm := info.ResourceManager(p)
		breakers = append(breakers, CircuitBreakerStatus{
			Priority:        p.String(),
			Connections:     resourceUsage(rm.Connections()),
			PendingRequests: resourceUsage(rm.PendingRequests()),
			Requests:        resourceUsage(rm.Requests()),
			Retries:         resourceUsage(rm.Retries()),
		})
	}

	hosts := cluster.Hosts()
	hostStatuses := make([]HostStatus, 0, len(hosts))
	for _, host := range hosts {
		hostStatuses = append(hostStatuses, HostStatus{
			Address:     host.Address(),
			Target:      host.Target(),
			Hostname:    host.Hostname(),
			Zone:        host.Zone(),
			Weight:      host.Weight(),
			Canary:      host.Canary(),
			Healthy:     host.Healthy(),
			HealthFlags: healthFlagNames(host),
		})
	}

	return ClusterStatus{
		Name:             info.Name(),
		Type:             string(info.Type()),
		LbPolicy:         string(info.LbPolicy()),
		ConnectTimeoutMs: info.ConnectTimeout().Milliseconds(),
		MaintenanceMode:  info.MaintenanceMode(),
		Initialized:      initialized,
		CircuitBreakers:  breakers,
		Hosts:            hostStatuses,
	}
}

func resourceUsage(r *upstream.Resource) ResourceUsage {
	return ResourceUsage{Active: r.Count(), Max: r.Max()}
}

func healthFlagNames(host *upstream.Host) []string {
	var names []string
	if host.HealthFlagGet(upstream.FailedActiveHealthCheck) {
		names = append(names, "failed_active_health_check")
	}
	if host.HealthFlagGet(upstream.FailedOutlierCheck) {
		names = append(names, "failed_outlier_check")
	}
	if host.HealthFlagGet(upstream.Degraded) {
		names = append(names, "degraded")
	}
	return names
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
