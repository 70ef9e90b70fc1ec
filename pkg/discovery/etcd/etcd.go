// Package etcd provides service discovery backed by etcd v3.
//
// Servers register themselves under /tether/{service}/{instance-id} with a
// TTL lease; if a server crashes the lease expires and the entry disappears
// on its own. Clients resolve the same prefix into endpoints.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kbirk/tether/pkg/discovery"
)

const defaultPrefix = "/tether"

// Instance is the JSON document stored per registered server.
type Instance struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

type Config struct {
	Endpoints   []string      // etcd cluster endpoints
	Service     string        // Service name to register/resolve under
	Prefix      string        // Key prefix (default "/tether")
	DialTimeout time.Duration // etcd connection timeout
}

// Registry implements discovery.Resolver against an etcd cluster and also
// offers the server-side registration half.
type Registry struct {
	conf   Config
	client *clientv3.Client
}

func New(conf Config) (*Registry, error) {
	if conf.Service == "" {
		return nil, fmt.Errorf("no service name provided")
	}
	if conf.Prefix == "" {
		conf.Prefix = defaultPrefix
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   conf.Endpoints,
		DialTimeout: conf.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		conf:   conf,
		client: client,
	}, nil
}

func (r *Registry) key(instanceID string) string {
	return r.conf.Prefix + "/" + r.conf.Service + "/" + instanceID
}

// Register adds an instance with a TTL lease and starts background lease
// renewal. It returns the generated instance id, used to deregister.
func (r *Registry) Register(ctx context.Context, host string, port int, ttl int64) (string, error) {
	instance := Instance{
		ID:   uuid.NewString(),
		Host: host,
		Port: port,
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return "", err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return "", err
	}

	_, err = r.client.Put(ctx, r.key(instance.ID), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return "", err
	}

	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return "", err
	}

	// Consume keep-alive responses so the channel doesn't fill up.
	go func() {
		for range ch {
		}
	}()

	return instance.ID, nil
}

// Deregister removes an instance. Called during graceful shutdown.
func (r *Registry) Deregister(ctx context.Context, instanceID string) error {
	_, err := r.client.Delete(ctx, r.key(instanceID))
	return err
}

// Resolve returns every currently registered endpoint for the service.
func (r *Registry) Resolve(ctx context.Context) ([]discovery.Endpoint, error) {
	resp, err := r.client.Get(ctx, r.conf.Prefix+"/"+r.conf.Service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]discovery.Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		endpoints = append(endpoints, discovery.Endpoint{
			Host: instance.Host,
			Port: instance.Port,
		})
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no instances registered for service %q", r.conf.Service)
	}
	return endpoints, nil
}

func (r *Registry) Close() error {
	return r.client.Close()
}
