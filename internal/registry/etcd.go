package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"

	"vexgate/internal/types"
)

// EtcdRegistry mirrors instances registered under an etcd prefix into
// memory. Instances register themselves (typically with a TTL lease) as
// JSON under <prefix>/<service>/<instance-id>; health is whatever the
// registration says, so losing a lease removes the instance.
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
	logger types.Logger

	mu        sync.RWMutex
	instances map[string]map[string]*types.ServiceInstance

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// EtcdConfig holds connection settings for the discovery backend
type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
}

// NewEtcd connects to etcd, loads the current instance set and starts a
// watch that keeps the mirror current.
func NewEtcd(cfg EtcdConfig, logger types.Logger) (*EtcdRegistry, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/vexgate/services"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	r := &EtcdRegistry{
		client:    client,
		prefix:    strings.TrimSuffix(cfg.Prefix, "/"),
		logger:    logger,
		instances: make(map[string]map[string]*types.ServiceInstance),
		stopCh:    make(chan struct{}),
	}

	rev, err := r.load()
	if err != nil {
		client.Close()
		return nil, err
	}

	r.wg.Add(1)
	go r.watch(rev + 1)

	return r, nil
}

// load replaces the mirror with the current etcd contents and returns the
// revision the snapshot was taken at.
func (r *EtcdRegistry) load() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := r.client.Get(ctx, r.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make(map[string]map[string]*types.ServiceInstance)
	for _, kv := range resp.Kvs {
		inst, err := decodeInstance(kv.Value)
		if err != nil {
			r.logger.Warn("Skipping invalid registration", "key", string(kv.Key), "error", err)
			continue
		}
		if instances[inst.ServiceName] == nil {
			instances[inst.ServiceName] = make(map[string]*types.ServiceInstance)
		}
		instances[inst.ServiceName][inst.ID] = inst
	}

	r.mu.Lock()
	r.instances = instances
	r.mu.Unlock()

	r.logger.Info("Loaded service registrations", "prefix", r.prefix, "services", len(instances))
	return resp.Header.Revision, nil
}

// watch keeps the mirror current. A broken watch channel is re-established
// with exponential backoff, reloading the snapshot first so nothing is lost.
func (r *EtcdRegistry) watch(fromRev int64) {
	defer r.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0 // keep retrying for the life of the process

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		watchCh := r.client.Watch(ctx, r.prefix+"/", clientv3.WithPrefix(), clientv3.WithRev(fromRev))

		healthy := true
		for healthy {
			select {
			case <-r.stopCh:
				cancel()
				return
			case resp, ok := <-watchCh:
				if !ok || resp.Canceled {
					healthy = false
					break
				}
				retry.Reset()
				fromRev = resp.Header.Revision + 1
				for _, event := range resp.Events {
					r.handleEvent(event)
				}
			}
		}
		cancel()

		wait := retry.NextBackOff()
		r.logger.Warn("Registry watch interrupted, reconnecting", "wait", wait)
		select {
		case <-r.stopCh:
			return
		case <-time.After(wait):
		}

		rev, err := r.load()
		if err != nil {
			r.logger.Error("Failed to reload registrations", "error", err)
			continue
		}
		fromRev = rev + 1
	}
}

func (r *EtcdRegistry) handleEvent(event *clientv3.Event) {
	key := string(event.Kv.Key)
	switch event.Type {
	case clientv3.EventTypePut:
		inst, err := decodeInstance(event.Kv.Value)
		if err != nil {
			r.logger.Warn("Ignoring invalid registration", "key", key, "error", err)
			return
		}
		r.mu.Lock()
		if r.instances[inst.ServiceName] == nil {
			r.instances[inst.ServiceName] = make(map[string]*types.ServiceInstance)
		}
		r.instances[inst.ServiceName][inst.ID] = inst
		r.mu.Unlock()
		r.logger.Debug("Instance registered", "service", inst.ServiceName, "instance", inst.ID)

	case clientv3.EventTypeDelete:
		service, id := r.parseKey(key)
		if service == "" || id == "" {
			return
		}
		r.mu.Lock()
		if insts, ok := r.instances[service]; ok {
			delete(insts, id)
			if len(insts) == 0 {
				delete(r.instances, service)
			}
		}
		r.mu.Unlock()
		r.logger.Debug("Instance deregistered", "service", service, "instance", id)
	}
}

// parseKey splits <prefix>/<service>/<instance-id>
func (r *EtcdRegistry) parseKey(key string) (service, id string) {
	rest := strings.TrimPrefix(key, r.prefix+"/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func decodeInstance(value []byte) (*types.ServiceInstance, error) {
	var inst types.ServiceInstance
	if err := json.Unmarshal(value, &inst); err != nil {
		return nil, err
	}
	if inst.ID == "" || inst.ServiceName == "" || inst.URL == "" {
		return nil, fmt.Errorf("registration missing id, service name or url")
	}
	return &inst, nil
}

// ListHealthy returns copies of the healthy instances for a service
func (r *EtcdRegistry) ListHealthy(serviceName string) []*types.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.ServiceInstance
	for _, inst := range r.instances[serviceName] {
		if inst.Healthy {
			out = append(out, copyInstance(inst))
		}
	}
	sortByID(out)
	return out
}

// PickAny returns any healthy instance for a service, or nil
func (r *EtcdRegistry) PickAny(serviceName string) *types.ServiceInstance {
	healthy := r.ListHealthy(serviceName)
	if len(healthy) == 0 {
		return nil
	}
	return healthy[0]
}

// IsAvailable reports whether the service has at least one healthy instance
func (r *EtcdRegistry) IsAvailable(serviceName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.instances[serviceName] {
		if inst.Healthy {
			return true
		}
	}
	return false
}

// ListAll returns copies of every registered instance for a service
func (r *EtcdRegistry) ListAll(serviceName string) []*types.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.ServiceInstance, 0, len(r.instances[serviceName]))
	for _, inst := range r.instances[serviceName] {
		out = append(out, copyInstance(inst))
	}
	sortByID(out)
	return out
}

// Services returns all registered service names, sorted
func (r *EtcdRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops the watch and releases the etcd client
func (r *EtcdRegistry) Close() error {
	close(r.stopCh)
	r.wg.Wait()
	return r.client.Close()
}

func sortByID(instances []*types.ServiceInstance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
}
