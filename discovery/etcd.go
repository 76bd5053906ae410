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

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DialEtcd connects a client suitable for NewEtcdSource.
func DialEtcd(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial etcd: %w", err)
	}
	return client, nil
}

// EtcdSource watches a key prefix in etcd. Every key below the prefix
// holds one JSON-encoded Endpoint record; the set of keys is the set of
// endpoints. The initial Get seeds the first emission and subsequent
// watch events re-emit the full set.
type EtcdSource struct {
	client *clientv3.Client
	prefix string
	logger zerolog.Logger
}

// NewEtcdSource builds a source over an existing client. The caller
// keeps ownership of the client.
func NewEtcdSource(client *clientv3.Client, prefix string, logger zerolog.Logger) *EtcdSource {
	return &EtcdSource{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("prefix", prefix).Logger(),
	}
}

// Watch implements Source. The returned channel carries the current
// endpoint set immediately and a fresh full set after every change under
// the prefix. The etcd client retries broken watches internally; the
// channel only closes when ctx ends.
func (s *EtcdSource) Watch(ctx context.Context) (<-chan []Endpoint, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd get %q: %w", s.prefix, err)
	}
	current := make(map[string]Endpoint, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ep, err := decodeEndpoint(kv.Value)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", string(kv.Key)).Msg("skipping malformed endpoint record")
			continue
		}
		current[string(kv.Key)] = ep
	}

	out := make(chan []Endpoint, 1)
	out <- endpointSet(current)

	watchCh := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	go s.run(ctx, watchCh, current, out)
	return out, nil
}

func (s *EtcdSource) run(ctx context.Context, watchCh clientv3.WatchChan, current map[string]Endpoint, out chan<- []Endpoint) {
	defer close(out)
	for watchResp := range watchCh {
		if err := watchResp.Err(); err != nil {
			s.logger.Warn().Err(err).Msg("etcd watch error")
			continue
		}
		dirty := false
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			switch event.Type {
			case mvccpb.PUT:
				ep, err := decodeEndpoint(event.Kv.Value)
				if err != nil {
					s.logger.Warn().Err(err).Str("key", key).Msg("skipping malformed endpoint record")
					continue
				}
				current[key] = ep
				dirty = true
			case mvccpb.DELETE:
				if _, ok := current[key]; ok {
					delete(current, key)
					dirty = true
				}
			}
		}
		if !dirty {
			continue
		}
		select {
		case out <- endpointSet(current):
		case <-ctx.Done():
			return
		}
	}
}

func decodeEndpoint(value []byte) (Endpoint, error) {
	var ep Endpoint
	if err := json.Unmarshal(value, &ep); err != nil {
		return Endpoint{}, fmt.Errorf("decode endpoint: %w", err)
	}
	if ep.Address == "" {
		return Endpoint{}, errors.New("endpoint record missing address")
	}
	return ep, nil
}

// endpointSet flattens the keyed records in key order so emissions are
// deterministic.
func endpointSet(current map[string]Endpoint) []Endpoint {
	keys := make([]string, 0, len(current))
	for key := range current {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	endpoints := make([]Endpoint, len(keys))
	for i, key := range keys {
		endpoints[i] = current[key]
	}
	return endpoints
}
