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

// Package config defines the YAML bootstrap format: the admin endpoint,
// the optional host cache, and the cluster definitions that the upstream
// manager materializes at startup. Decoding is strict (unknown fields are
// rejected) and all timing fields are millisecond integers. Defaults that
// apply when a field is absent live in this package as named constants so
// the components consuming them stay independently testable.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding field is absent.
const (
	// Circuit-breaker limits per priority.
	DefaultMaxConnections     = 1024
	DefaultMaxPendingRequests = 1024
	DefaultMaxRequests        = 1024
	DefaultMaxRetries         = 3

	// DefaultDNSRefreshRateMs is the refresh interval for DNS-backed
	// clusters that do not set dns_refresh_rate_ms.
	DefaultDNSRefreshRateMs = 5000

	// DefaultPerConnectionBufferLimitBytes caps soft buffering per
	// upstream connection (1 MiB).
	DefaultPerConnectionBufferLimitBytes = 1024 * 1024

	// Outlier-detection fallbacks.
	DefaultOutlierConsecutiveErrors  = 5
	DefaultOutlierIntervalMs         = 10000
	DefaultOutlierBaseEjectionTimeMs = 30000
	DefaultOutlierMaxEjectionPercent = 10

	// DefaultEtcdDialTimeoutMs bounds the initial etcd connection attempt
	// for dynamic-discovery clusters.
	DefaultEtcdDialTimeoutMs = 5000
)

// ClusterType selects how a cluster learns its membership.
type ClusterType string

const (
	ClusterStatic      ClusterType = "static"
	ClusterStrictDNS   ClusterType = "strict_dns"
	ClusterLogicalDNS  ClusterType = "logical_dns"
	ClusterOriginalDst ClusterType = "original_dst"
	ClusterEDS         ClusterType = "eds"
)

// LbPolicy selects the load-balancer algorithm a cluster's consumers use.
// Only the selection is recorded here; the algorithms themselves live with
// the data plane.
type LbPolicy string

const (
	LbRoundRobin   LbPolicy = "round_robin"
	LbLeastRequest LbPolicy = "least_request"
	LbRandom       LbPolicy = "random"
	LbRingHash     LbPolicy = "ring_hash"
	LbOriginalDst  LbPolicy = "original_dst_lb"
	LbStandBy      LbPolicy = "standby"
)

// DNSLookupFamily restricts which address families a DNS-backed cluster
// accepts from resolution.
type DNSLookupFamily string

const (
	DNSAuto   DNSLookupFamily = "auto"
	DNSV4Only DNSLookupFamily = "v4_only"
	DNSV6Only DNSLookupFamily = "v6_only"
)

// Priority identifies which circuit-breaker budget a request draws from.
type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

// Config is the top-level bootstrap document.
type Config struct {
	Admin     *Admin     `yaml:"admin,omitempty"`
	HostCache *HostCache `yaml:"host_cache,omitempty"`
	Clusters  []Cluster  `yaml:"clusters"`
}

// Admin configures the administrative HTTP endpoint.
type Admin struct {
	Address string `yaml:"address"`
}

// HostCache enables the persistent last-known-good address cache for
// DNS-backed clusters.
type HostCache struct {
	Path string `yaml:"path"`
}

// Cluster is one upstream cluster definition.
type Cluster struct {
	Name                          string            `yaml:"name"`
	Type                          ClusterType       `yaml:"type"`
	LbPolicy                      LbPolicy          `yaml:"lb_policy,omitempty"`
	ConnectTimeoutMs              int64             `yaml:"connect_timeout_ms"`
	PerConnectionBufferLimitBytes *uint32           `yaml:"per_connection_buffer_limit_bytes,omitempty"`
	MaxRequestsPerConnection      uint32            `yaml:"max_requests_per_connection,omitempty"`
	HTTP2                         bool              `yaml:"http2,omitempty"`
	TLS                           bool              `yaml:"tls,omitempty"`
	Hosts                         []string          `yaml:"hosts,omitempty"`
	DNSRefreshRateMs              int64             `yaml:"dns_refresh_rate_ms,omitempty"`
	DNSLookupFamily               DNSLookupFamily   `yaml:"dns_lookup_family,omitempty"`
	DNSResolvers                  []string          `yaml:"dns_resolvers,omitempty"`
	RespectDNSTTL                 bool              `yaml:"respect_dns_ttl,omitempty"`
	CircuitBreakers               *CircuitBreakers  `yaml:"circuit_breakers,omitempty"`
	HealthCheck                   *HealthCheck      `yaml:"health_check,omitempty"`
	OutlierDetection              *OutlierDetection `yaml:"outlier_detection,omitempty"`
	EDSConfig                     *EDSConfig        `yaml:"eds_config,omitempty"`
}

// CircuitBreakers holds per-priority resource limits.
type CircuitBreakers struct {
	Thresholds []Threshold `yaml:"thresholds"`
}

// Threshold is one circuit-breaker entry. Absent fields fall back to the
// package defaults; explicit zeroes are honored as configured.
type Threshold struct {
	Priority           Priority `yaml:"priority,omitempty"`
	MaxConnections     *uint64  `yaml:"max_connections,omitempty"`
	MaxPendingRequests *uint64  `yaml:"max_pending_requests,omitempty"`
	MaxRequests        *uint64  `yaml:"max_requests,omitempty"`
	MaxRetries         *uint64  `yaml:"max_retries,omitempty"`
}

// HealthCheck configures active health checking for a cluster.
type HealthCheck struct {
	Protocol           string `yaml:"protocol"`
	Path               string `yaml:"path,omitempty"`
	IntervalMs         int64  `yaml:"interval_ms"`
	IntervalJitterMs   int64  `yaml:"interval_jitter_ms,omitempty"`
	TimeoutMs          int64  `yaml:"timeout_ms"`
	HealthyThreshold   uint32 `yaml:"healthy_threshold"`
	UnhealthyThreshold uint32 `yaml:"unhealthy_threshold"`
}

// OutlierDetection configures passive (outlier) ejection for a cluster.
// All fields default when zero.
type OutlierDetection struct {
	ConsecutiveErrors  uint32 `yaml:"consecutive_errors,omitempty"`
	IntervalMs         int64  `yaml:"interval_ms,omitempty"`
	BaseEjectionTimeMs int64  `yaml:"base_ejection_time_ms,omitempty"`
	MaxEjectionPercent uint32 `yaml:"max_ejection_percent,omitempty"`
}

// EDSConfig points a dynamic-discovery cluster at its endpoint source.
type EDSConfig struct {
	Etcd *EtcdConfig `yaml:"etcd"`
}

// EtcdConfig describes an etcd-backed endpoint source: every key below
// Prefix holds one JSON endpoint record.
type EtcdConfig struct {
	Endpoints     []string `yaml:"endpoints"`
	Prefix        string   `yaml:"prefix"`
	DialTimeoutMs int64    `yaml:"dial_timeout_ms,omitempty"`
}

// Load reads and parses the bootstrap file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a bootstrap document. Unknown fields are rejected. The
// returned config has been validated.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config: empty document")
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the whole bootstrap. The first problem found is
// returned; a config that validates will construct without errors.
func (c *Config) Validate() error {
	if c.Admin != nil && c.Admin.Address == "" {
		return errors.New("config: admin.address must be set when admin is present")
	}
	if c.HostCache != nil && c.HostCache.Path == "" {
		return errors.New("config: host_cache.path must be set when host_cache is present")
	}
	seen := make(map[string]struct{}, len(c.Clusters))
	for i := range c.Clusters {
		cl := &c.Clusters[i]
		if cl.Name == "" {
			return fmt.Errorf("config: cluster %d: name must be set", i)
		}
		if _, dup := seen[cl.Name]; dup {
			return fmt.Errorf("config: duplicate cluster name %q", cl.Name)
		}
		seen[cl.Name] = struct{}{}
		if err := cl.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single cluster definition.
func (c *Cluster) Validate() error {
	switch c.Type {
	case ClusterStatic, ClusterStrictDNS, ClusterLogicalDNS, ClusterOriginalDst, ClusterEDS:
	case "":
		return fmt.Errorf("cluster %q: type must be set", c.Name)
	default:
		return fmt.Errorf("cluster %q: unknown type %q", c.Name, c.Type)
	}
	switch c.LbPolicy {
	case LbRoundRobin, LbLeastRequest, LbRandom, LbRingHash, LbOriginalDst, LbStandBy, "":
	default:
		return fmt.Errorf("cluster %q: unknown lb_policy %q", c.Name, c.LbPolicy)
	}
	if c.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("cluster %q: connect_timeout_ms must be positive", c.Name)
	}
	if c.DNSRefreshRateMs < 0 {
		return fmt.Errorf("cluster %q: dns_refresh_rate_ms must not be negative", c.Name)
	}

	// Original-destination clusters are only usable with the
	// original-destination balancing policy, and vice versa.
	if c.Type == ClusterOriginalDst && c.Policy() != LbOriginalDst {
		return fmt.Errorf("cluster %q: cluster type original_dst requires lb_policy original_dst_lb", c.Name)
	}
	if c.Policy() == LbOriginalDst && c.Type != ClusterOriginalDst {
		return fmt.Errorf("cluster %q: lb_policy original_dst_lb requires cluster type original_dst", c.Name)
	}

	switch c.DNSLookupFamily {
	case DNSAuto, DNSV4Only, DNSV6Only, "":
	default:
		return fmt.Errorf("cluster %q: unknown dns_lookup_family %q", c.Name, c.DNSLookupFamily)
	}

	switch c.Type {
	case ClusterStatic:
		if len(c.Hosts) == 0 {
			return fmt.Errorf("cluster %q: static cluster requires hosts", c.Name)
		}
		for _, h := range c.Hosts {
			if _, err := netip.ParseAddrPort(h); err != nil {
				return fmt.Errorf("cluster %q: static host %q must be an ip:port pair: %w", c.Name, h, err)
			}
		}
	case ClusterStrictDNS, ClusterLogicalDNS:
		if len(c.Hosts) == 0 {
			return fmt.Errorf("cluster %q: %s cluster requires hosts", c.Name, c.Type)
		}
		if c.Type == ClusterLogicalDNS && len(c.Hosts) != 1 {
			return fmt.Errorf("cluster %q: logical_dns cluster requires exactly one host", c.Name)
		}
		for _, h := range c.Hosts {
			if err := validateHostPort(h); err != nil {
				return fmt.Errorf("cluster %q: host %q: %w", c.Name, h, err)
			}
		}
	case ClusterOriginalDst:
		if len(c.Hosts) != 0 {
			return fmt.Errorf("cluster %q: original_dst cluster must not list hosts", c.Name)
		}
	case ClusterEDS:
		if len(c.Hosts) != 0 {
			return fmt.Errorf("cluster %q: eds cluster must not list hosts", c.Name)
		}
		if c.EDSConfig == nil {
			return fmt.Errorf("cluster %q: eds cluster requires eds_config", c.Name)
		}
		if err := c.EDSConfig.validate(c.Name); err != nil {
			return err
		}
	}

	for _, addr := range c.DNSResolvers {
		if _, err := resolverAddr(addr); err != nil {
			return fmt.Errorf("cluster %q: dns_resolvers entry %q: %w", c.Name, addr, err)
		}
	}

	if c.CircuitBreakers != nil {
		for i, th := range c.CircuitBreakers.Thresholds {
			switch th.Priority {
			case PriorityDefault, PriorityHigh, "":
			default:
				return fmt.Errorf("cluster %q: circuit_breakers.thresholds[%d]: unknown priority %q", c.Name, i, th.Priority)
			}
		}
	}

	if hc := c.HealthCheck; hc != nil {
		switch hc.Protocol {
		case "http":
			if hc.Path == "" || hc.Path[0] != '/' {
				return fmt.Errorf("cluster %q: health_check.path must start with / for http checks", c.Name)
			}
		case "tcp":
			if hc.Path != "" {
				return fmt.Errorf("cluster %q: health_check.path is only valid for http checks", c.Name)
			}
		default:
			return fmt.Errorf("cluster %q: health_check.protocol must be http or tcp", c.Name)
		}
		if hc.IntervalMs <= 0 {
			return fmt.Errorf("cluster %q: health_check.interval_ms must be positive", c.Name)
		}
		if hc.TimeoutMs <= 0 {
			return fmt.Errorf("cluster %q: health_check.timeout_ms must be positive", c.Name)
		}
		if hc.IntervalJitterMs < 0 {
			return fmt.Errorf("cluster %q: health_check.interval_jitter_ms must not be negative", c.Name)
		}
		if hc.HealthyThreshold == 0 || hc.UnhealthyThreshold == 0 {
			return fmt.Errorf("cluster %q: health_check thresholds must be at least 1", c.Name)
		}
	}

	if od := c.OutlierDetection; od != nil {
		if od.MaxEjectionPercent > 100 {
			return fmt.Errorf("cluster %q: outlier_detection.max_ejection_percent must be at most 100", c.Name)
		}
		if od.IntervalMs < 0 || od.BaseEjectionTimeMs < 0 {
			return fmt.Errorf("cluster %q: outlier_detection intervals must not be negative", c.Name)
		}
	}

	return nil
}

func (e *EDSConfig) validate(cluster string) error {
	if e.Etcd == nil {
		return fmt.Errorf("cluster %q: eds_config.etcd must be set", cluster)
	}
	if len(e.Etcd.Endpoints) == 0 {
		return fmt.Errorf("cluster %q: eds_config.etcd.endpoints must not be empty", cluster)
	}
	if e.Etcd.Prefix == "" {
		return fmt.Errorf("cluster %q: eds_config.etcd.prefix must be set", cluster)
	}
	if e.Etcd.DialTimeoutMs < 0 {
		return fmt.Errorf("cluster %q: eds_config.etcd.dial_timeout_ms must not be negative", cluster)
	}
	return nil
}

// Policy returns the effective load-balancer policy, round_robin when
// unset.
func (c *Cluster) Policy() LbPolicy {
	if c.LbPolicy == "" {
		return LbRoundRobin
	}
	return c.LbPolicy
}

// ConnectTimeout converts connect_timeout_ms.
func (c *Cluster) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// DNSRefreshRate returns the effective refresh interval for DNS-backed
// clusters.
func (c *Cluster) DNSRefreshRate() time.Duration {
	if c.DNSRefreshRateMs == 0 {
		return DefaultDNSRefreshRateMs * time.Millisecond
	}
	return time.Duration(c.DNSRefreshRateMs) * time.Millisecond
}

// LookupFamily returns the effective DNS address-family preference.
func (c *Cluster) LookupFamily() DNSLookupFamily {
	if c.DNSLookupFamily == "" {
		return DNSAuto
	}
	return c.DNSLookupFamily
}

// PerConnectionBufferLimit returns the effective per-connection buffer
// cap in bytes.
func (c *Cluster) PerConnectionBufferLimit() uint32 {
	if c.PerConnectionBufferLimitBytes == nil {
		return DefaultPerConnectionBufferLimitBytes
	}
	return *c.PerConnectionBufferLimitBytes
}

// DNSResolverAddrs returns the per-cluster DNS server addresses in
// "ip:port" form, defaulting the port to 53.
func (c *Cluster) DNSResolverAddrs() []string {
	if len(c.DNSResolvers) == 0 {
		return nil
	}
	out := make([]string, len(c.DNSResolvers))
	for i, a := range c.DNSResolvers {
		// Validate already established these parse.
		normalized, _ := resolverAddr(a)
		out[i] = normalized
	}
	return out
}

// Threshold lookup: the first entry matching the priority wins, matching
// an empty priority as default.
func (c *Cluster) threshold(p Priority) *Threshold {
	if c.CircuitBreakers == nil {
		return nil
	}
	for i := range c.CircuitBreakers.Thresholds {
		th := &c.CircuitBreakers.Thresholds[i]
		effective := th.Priority
		if effective == "" {
			effective = PriorityDefault
		}
		if effective == p {
			return th
		}
	}
	return nil
}

// Limits resolves the four circuit-breaker ceilings for a priority,
// applying per-field defaults for anything the matching threshold entry
// leaves unset.
func (c *Cluster) Limits(p Priority) (maxConnections, maxPendingRequests, maxRequests, maxRetries uint64) {
	maxConnections = DefaultMaxConnections
	maxPendingRequests = DefaultMaxPendingRequests
	maxRequests = DefaultMaxRequests
	maxRetries = DefaultMaxRetries
	th := c.threshold(p)
	if th == nil {
		return
	}
	if th.MaxConnections != nil {
		maxConnections = *th.MaxConnections
	}
	if th.MaxPendingRequests != nil {
		maxPendingRequests = *th.MaxPendingRequests
	}
	if th.MaxRequests != nil {
		maxRequests = *th.MaxRequests
	}
	if th.MaxRetries != nil {
		maxRetries = *th.MaxRetries
	}
	return
}

// Interval returns the effective health-check interval.
func (h *HealthCheck) Interval() time.Duration {
	return time.Duration(h.IntervalMs) * time.Millisecond
}

// IntervalJitter returns the configured jitter bound (zero means none).
func (h *HealthCheck) IntervalJitter() time.Duration {
	return time.Duration(h.IntervalJitterMs) * time.Millisecond
}

// Timeout returns the per-probe timeout.
func (h *HealthCheck) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// Errors returns the effective consecutive-error threshold.
func (o *OutlierDetection) Errors() uint32 {
	if o.ConsecutiveErrors == 0 {
		return DefaultOutlierConsecutiveErrors
	}
	return o.ConsecutiveErrors
}

// Interval returns the effective uneject sweep interval.
func (o *OutlierDetection) Interval() time.Duration {
	if o.IntervalMs == 0 {
		return DefaultOutlierIntervalMs * time.Millisecond
	}
	return time.Duration(o.IntervalMs) * time.Millisecond
}

// BaseEjectionTime returns the effective minimum ejection duration.
func (o *OutlierDetection) BaseEjectionTime() time.Duration {
	if o.BaseEjectionTimeMs == 0 {
		return DefaultOutlierBaseEjectionTimeMs * time.Millisecond
	}
	return time.Duration(o.BaseEjectionTimeMs) * time.Millisecond
}

// EjectionPercent returns the effective ceiling on concurrently ejected
// hosts.
func (o *OutlierDetection) EjectionPercent() uint32 {
	if o.MaxEjectionPercent == 0 {
		return DefaultOutlierMaxEjectionPercent
	}
	return o.MaxEjectionPercent
}

// DialTimeout returns the effective etcd dial timeout.
func (e *EtcdConfig) DialTimeout() time.Duration {
	if e.DialTimeoutMs == 0 {
		return DefaultEtcdDialTimeoutMs * time.Millisecond
	}
	return time.Duration(e.DialTimeoutMs) * time.Millisecond
}

// validateHostPort accepts "host:port" where host may be a DNS name or
// IP literal.
func validateHostPort(hostport string) error {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("host must not be empty")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// resolverAddr normalizes a dns_resolvers entry, defaulting port 53.
func resolverAddr(addr string) (string, error) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.String(), nil
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "", errors.New("must be an IP or ip:port pair")
	}
	return net.JoinHostPort(ip.String(), "53"), nil
}
