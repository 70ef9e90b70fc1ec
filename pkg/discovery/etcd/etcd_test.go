package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a reachable etcd; set TETHER_ETCD_ENDPOINTS to run.
func newTestRegistry(t *testing.T, service string) *Registry {
	endpoints := os.Getenv("TETHER_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("TETHER_ETCD_ENDPOINTS not set")
	}
	registry, err := New(Config{
		Endpoints:   strings.Split(endpoints, ","),
		Service:     service,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return registry
}

func TestRegisterResolveDeregister(t *testing.T) {
	registry := newTestRegistry(t, "echo-test")
	defer registry.Close()

	ctx := context.Background()

	id1, err := registry.Register(ctx, "127.0.0.1", 9000, 10)
	require.NoError(t, err)
	id2, err := registry.Register(ctx, "127.0.0.1", 9001, 10)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	endpoints, err := registry.Resolve(ctx)
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)

	require.NoError(t, registry.Deregister(ctx, id1))
	time.Sleep(100 * time.Millisecond)

	endpoints, err = registry.Resolve(ctx)
	require.NoError(t, err)
	assert.Len(t, endpoints, 1)
	assert.Equal(t, 9001, endpoints[0].Port)

	require.NoError(t, registry.Deregister(ctx, id2))
}

func TestResolveNoInstances(t *testing.T) {
	registry := newTestRegistry(t, "nothing-registered-here")
	defer registry.Close()

	_, err := registry.Resolve(context.Background())
	require.Error(t, err)
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(Config{Endpoints: []string{"localhost:2379"}})
	require.Error(t, err)
}
