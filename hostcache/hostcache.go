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

// Package hostcache persists the last successfully resolved addresses of
// DNS-backed clusters. After a restart, clusters seed their host lists
// from the cache so traffic can flow before the first live resolution
// completes (or while DNS is down). Entries are keyed by cluster name
// and resolve target.
package hostcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when no entry exists for the target.
var ErrNotFound = errors.New("hostcache: entry not found")

var bucketClusters = []byte("clusters")

// Cache is a bbolt-backed address cache. It is safe for concurrent use.
type Cache struct {
	db *bolt.DB
}

// entry is the stored record for one resolve target.
type entry struct {
	Addresses []string  `json:"addresses"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open opens (creating if necessary) the cache file at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open host cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClusters)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init host cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put records the addresses most recently resolved for target within
// cluster. An empty address list is a valid record (the name resolved
// to nothing).
func (c *Cache) Put(cluster, target string, addrs []netip.Addr) error {
	rec := entry{
		Addresses: make([]string, len(addrs)),
		UpdatedAt: time.Now().UTC(),
	}
	for i, addr := range addrs {
		rec.Addresses[i] = addr.String()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketClusters).CreateBucketIfNotExists([]byte(cluster))
		if err != nil {
			return fmt.Errorf("create cluster bucket: %w", err)
		}
		return b.Put([]byte(target), data)
	})
}

// Get returns the cached addresses for target within cluster, plus the
// time they were recorded. Returns ErrNotFound when the target has never
// been cached.
func (c *Cache) Get(cluster, target string) ([]netip.Addr, time.Time, error) {
	var rec entry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters).Bucket([]byte(cluster))
		if b == nil {
			return ErrNotFound
		}
		data := b.Get([]byte(target))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	addrs := make([]netip.Addr, 0, len(rec.Addresses))
	for _, s := range rec.Addresses {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("corrupt cache entry for %s/%s: %w", cluster, target, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, rec.UpdatedAt, nil
}

// DeleteCluster drops every cached target for a cluster. Removing a
// cluster that was never cached is not an error.
func (c *Cache) DeleteCluster(cluster string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketClusters).DeleteBucket([]byte(cluster))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
