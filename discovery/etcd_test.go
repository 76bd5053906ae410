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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEndpoint(t *testing.T) {
	t.Parallel()

	ep, err := decodeEndpoint([]byte(`{
		"address": "10.0.0.1:8080",
		"zone": "us-east-1a",
		"weight": 5,
		"canary": true,
		"metadata": {"version": "v2"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", ep.Address)
	assert.Equal(t, "us-east-1a", ep.Zone)
	assert.Equal(t, uint32(5), ep.Weight)
	assert.True(t, ep.Canary)
	assert.Equal(t, map[string]string{"version": "v2"}, ep.Metadata)

	_, err = decodeEndpoint([]byte(`{"zone": "us-east-1a"}`))
	require.Error(t, err, "address is required")

	_, err = decodeEndpoint([]byte(`{not json`))
	require.Error(t, err)
}

func TestEndpointSetOrdering(t *testing.T) {
	t.Parallel()

	current := map[string]Endpoint{
		"/clusters/backend/endpoints/c": {Address: "10.0.0.3:80"},
		"/clusters/backend/endpoints/a": {Address: "10.0.0.1:80"},
		"/clusters/backend/endpoints/b": {Address: "10.0.0.2:80"},
	}
	got := endpointSet(current)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.1:80", got[0].Address)
	assert.Equal(t, "10.0.0.2:80", got[1].Address)
	assert.Equal(t, "10.0.0.3:80", got[2].Address)

	assert.Empty(t, endpointSet(nil))
}
