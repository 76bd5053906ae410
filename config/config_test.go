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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
admin:
  address: "127.0.0.1:9901"
host_cache:
  path: /tmp/hostcache.db
clusters:
  - name: backend
    type: strict_dns
    lb_policy: least_request
    connect_timeout_ms: 250
    dns_refresh_rate_ms: 1500
    dns_lookup_family: v4_only
    respect_dns_ttl: true
    hosts:
      - backend.example.com:8080
  - name: statics
    type: static
    connect_timeout_ms: 250
    hosts:
      - 10.0.0.1:80
      - 10.0.0.2:80
`))
	require.NoError(t, err)
	require.Len(t, cfg.Clusters, 2)

	backend := cfg.Clusters[0]
	assert.Equal(t, ClusterStrictDNS, backend.Type)
	assert.Equal(t, LbLeastRequest, backend.Policy())
	assert.Equal(t, 250*time.Millisecond, backend.ConnectTimeout())
	assert.Equal(t, 1500*time.Millisecond, backend.DNSRefreshRate())
	assert.Equal(t, DNSV4Only, backend.LookupFamily())
	assert.True(t, backend.RespectDNSTTL)

	statics := cfg.Clusters[1]
	assert.Equal(t, ClusterStatic, statics.Type)
	assert.Equal(t, LbRoundRobin, statics.Policy())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
clusters:
  - name: backend
    type: static
    connect_timeout_ms: 250
    hosts: ["10.0.0.1:80"]
    not_a_field: true
`))
	require.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse(nil)
	require.Error(t, err)
}

func TestClusterDefaults(t *testing.T) {
	t.Parallel()

	cl := Cluster{
		Name:             "backend",
		Type:             ClusterStrictDNS,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"backend.example.com:8080"},
	}
	require.NoError(t, cl.Validate())

	assert.Equal(t, 5000*time.Millisecond, cl.DNSRefreshRate())
	assert.Equal(t, DNSAuto, cl.LookupFamily())
	assert.Equal(t, uint32(1024*1024), cl.PerConnectionBufferLimit())
	assert.Equal(t, LbRoundRobin, cl.Policy())
}

func TestValidateRequiresConnectTimeout(t *testing.T) {
	t.Parallel()

	cl := Cluster{
		Name:  "backend",
		Type:  ClusterStatic,
		Hosts: []string{"10.0.0.1:80"},
	}
	err := cl.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout_ms")
}

func TestValidateOriginalDstPairing(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		typ     ClusterType
		policy  LbPolicy
		wantErr bool
	}{
		{"matched pair", ClusterOriginalDst, LbOriginalDst, false},
		{"type without policy", ClusterOriginalDst, LbRoundRobin, true},
		{"policy without type", ClusterStatic, LbOriginalDst, true},
		{"unrelated pair", ClusterStatic, LbRandom, false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			cl := Cluster{
				Name:             "c",
				Type:             testCase.typ,
				LbPolicy:         testCase.policy,
				ConnectTimeoutMs: 250,
			}
			if testCase.typ == ClusterStatic {
				cl.Hosts = []string{"10.0.0.1:80"}
			}
			err := cl.Validate()
			if testCase.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEDSRequiresConfig(t *testing.T) {
	t.Parallel()

	cl := Cluster{
		Name:             "dynamic",
		Type:             ClusterEDS,
		ConnectTimeoutMs: 250,
	}
	err := cl.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eds_config")

	cl.EDSConfig = &EDSConfig{
		Etcd: &EtcdConfig{
			Endpoints: []string{"127.0.0.1:2379"},
			Prefix:    "/clusters/dynamic/",
		},
	}
	require.NoError(t, cl.Validate())
	assert.Equal(t, 5*time.Second, cl.EDSConfig.Etcd.DialTimeout())
}

func TestValidateHosts(t *testing.T) {
	t.Parallel()

	// Static clusters require IP literals.
	cl := Cluster{
		Name:             "statics",
		Type:             ClusterStatic,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"backend.example.com:80"},
	}
	require.Error(t, cl.Validate())

	// DNS clusters accept names but still need a port.
	cl = Cluster{
		Name:             "backend",
		Type:             ClusterStrictDNS,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"backend.example.com"},
	}
	require.Error(t, cl.Validate())

	// Logical DNS permits exactly one host.
	cl = Cluster{
		Name:             "backend",
		Type:             ClusterLogicalDNS,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"a.example.com:80", "b.example.com:80"},
	}
	require.Error(t, cl.Validate())
}

func TestValidateDuplicateClusterNames(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
clusters:
  - name: backend
    type: static
    connect_timeout_ms: 250
    hosts: ["10.0.0.1:80"]
  - name: backend
    type: static
    connect_timeout_ms: 250
    hosts: ["10.0.0.2:80"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate cluster name")
}

func TestLimits(t *testing.T) {
	t.Parallel()

	limit := func(v uint64) *uint64 { return &v }

	cl := Cluster{
		Name:             "backend",
		Type:             ClusterStatic,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"10.0.0.1:80"},
		CircuitBreakers: &CircuitBreakers{
			Thresholds: []Threshold{
				{
					// Empty priority counts as default. Only two of four
					// fields set; the rest keep their defaults.
					MaxConnections: limit(1),
					MaxRetries:     limit(10),
				},
				{
					Priority:       PriorityDefault,
					MaxConnections: limit(999),
				},
				{
					Priority:    PriorityHigh,
					MaxRequests: limit(42),
				},
			},
		},
	}
	require.NoError(t, cl.Validate())

	conns, pending, reqs, retries := cl.Limits(PriorityDefault)
	assert.Equal(t, uint64(1), conns, "first matching threshold wins")
	assert.Equal(t, uint64(DefaultMaxPendingRequests), pending)
	assert.Equal(t, uint64(DefaultMaxRequests), reqs)
	assert.Equal(t, uint64(10), retries)

	conns, pending, reqs, retries = cl.Limits(PriorityHigh)
	assert.Equal(t, uint64(DefaultMaxConnections), conns)
	assert.Equal(t, uint64(DefaultMaxPendingRequests), pending)
	assert.Equal(t, uint64(42), reqs)
	assert.Equal(t, uint64(DefaultMaxRetries), retries)
}

func TestLimitsNoThresholds(t *testing.T) {
	t.Parallel()

	cl := Cluster{Name: "backend"}
	conns, pending, reqs, retries := cl.Limits(PriorityDefault)
	assert.Equal(t, uint64(1024), conns)
	assert.Equal(t, uint64(1024), pending)
	assert.Equal(t, uint64(1024), reqs)
	assert.Equal(t, uint64(3), retries)
}

func TestLimitsExplicitZero(t *testing.T) {
	t.Parallel()

	zero := uint64(0)
	cl := Cluster{
		CircuitBreakers: &CircuitBreakers{
			Thresholds: []Threshold{{Priority: PriorityDefault, MaxRetries: &zero}},
		},
	}
	_, _, _, retries := cl.Limits(PriorityDefault)
	assert.Equal(t, uint64(0), retries, "explicit zero is honored, not defaulted")
}

func TestDNSResolverAddrs(t *testing.T) {
	t.Parallel()

	cl := Cluster{
		Name:             "backend",
		Type:             ClusterStrictDNS,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"backend.example.com:8080"},
		DNSResolvers:     []string{"10.0.0.53", "10.0.0.54:5353"},
	}
	require.NoError(t, cl.Validate())
	assert.Equal(t, []string{"10.0.0.53:53", "10.0.0.54:5353"}, cl.DNSResolverAddrs())

	cl.DNSResolvers = []string{"not-an-ip"}
	require.Error(t, cl.Validate())
}

func TestHealthCheckValidation(t *testing.T) {
	t.Parallel()

	base := Cluster{
		Name:             "backend",
		Type:             ClusterStatic,
		ConnectTimeoutMs: 250,
		Hosts:            []string{"10.0.0.1:80"},
	}

	cl := base
	cl.HealthCheck = &HealthCheck{
		Protocol:           "http",
		Path:               "/healthz",
		IntervalMs:         1000,
		TimeoutMs:          500,
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
	}
	require.NoError(t, cl.Validate())
	assert.Equal(t, time.Second, cl.HealthCheck.Interval())
	assert.Equal(t, 500*time.Millisecond, cl.HealthCheck.Timeout())

	cl = base
	cl.HealthCheck = &HealthCheck{Protocol: "http", IntervalMs: 1000, TimeoutMs: 500, HealthyThreshold: 1, UnhealthyThreshold: 1}
	require.Error(t, cl.Validate(), "http checks need a path")

	cl = base
	cl.HealthCheck = &HealthCheck{Protocol: "tcp", IntervalMs: 1000, TimeoutMs: 500}
	require.Error(t, cl.Validate(), "thresholds must be at least 1")
}

func TestOutlierDefaults(t *testing.T) {
	t.Parallel()

	od := OutlierDetection{}
	assert.Equal(t, uint32(5), od.Errors())
	assert.Equal(t, 10*time.Second, od.Interval())
	assert.Equal(t, 30*time.Second, od.BaseEjectionTime())
	assert.Equal(t, uint32(10), od.EjectionPercent())

	od = OutlierDetection{ConsecutiveErrors: 2, IntervalMs: 100, BaseEjectionTimeMs: 5000, MaxEjectionPercent: 50}
	assert.Equal(t, uint32(2), od.Errors())
	assert.Equal(t, 100*time.Millisecond, od.Interval())
	assert.Equal(t, 5*time.Second, od.BaseEjectionTime())
	assert.Equal(t, uint32(50), od.EjectionPercent())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
