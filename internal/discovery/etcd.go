package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"ringkv/internal/address"
)

const (
	etcdPrefix      = "/ringkv/nodes/"
	etcdDialTimeout = 5 * time.Second
)

// ErrNoIntroducer is returned when no other member could be found.
var ErrNoIntroducer = errors.New("ringkv: no introducer found")

// EtcdRegistry keeps a lease-backed registration of the local node in etcd.
type EtcdRegistry struct {
	cli   *clientv3.Client
	ttl   int64
	log   *zap.Logger
	lease clientv3.LeaseID
}

// NewEtcdRegistry connects to the given endpoints. Registrations expire
// ttl seconds after the node stops renewing them.
func NewEtcdRegistry(endpoints []string, ttl int64, log *zap.Logger) (*EtcdRegistry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegistry{cli: cli, ttl: ttl, log: log}, nil
}

func nodeKey(a address.Address) string {
	return etcdPrefix + a.String()
}

// Register puts self under a fresh lease and keeps the lease alive until
// ctx is cancelled or Close is called.
func (r *EtcdRegistry) Register(ctx context.Context, self address.Address) error {
	lease, err := r.cli.Grant(ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("etcd grant: %w", err)
	}
	if _, err := r.cli.Put(ctx, nodeKey(self), self.String(), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcd put: %w", err)
	}
	alive, err := r.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("etcd keepalive: %w", err)
	}
	r.lease = lease.ID

	go func() {
		for range alive {
		}
		r.log.Debug("etcd keepalive stopped", zap.Int64("lease", int64(lease.ID)))
	}()
	r.log.Info("registered in etcd", zap.String("key", nodeKey(self)), zap.Int64("ttl", r.ttl))
	return nil
}

// Introducer returns the member with the oldest registration. Once self
// is registered this is never empty; it is self when this node came first.
func (r *EtcdRegistry) Introducer(ctx context.Context) (address.Address, error) {
	resp, err := r.cli.Get(ctx, etcdPrefix, clientv3.WithFirstCreate()...)
	if err != nil {
		return address.Zero, fmt.Errorf("etcd get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return address.Zero, ErrNoIntroducer
	}
	a, err := address.Parse(string(resp.Kvs[0].Value))
	if err != nil {
		return address.Zero, fmt.Errorf("etcd entry %s: %w", resp.Kvs[0].Key, err)
	}
	return a, nil
}

// Close revokes the registration and closes the client.
func (r *EtcdRegistry) Close() error {
	if r.lease != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), etcdDialTimeout)
		defer cancel()
		if _, err := r.cli.Revoke(ctx, r.lease); err != nil {
			r.log.Warn("etcd revoke failed", zap.Error(err))
		}
	}
	return r.cli.Close()
}
