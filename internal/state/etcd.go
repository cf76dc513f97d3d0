package state

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore implements Store atop etcd's lease mechanism, so a lock
// backed by it expires on its own if the owner crashes without
// releasing it. Every write with a positive ttl grants a lease scoped to
// that ttl and attaches it to the key.
type EtcdStore struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
}

// NewEtcdStore dials endpoints. timeout bounds every individual RPC this
// Store issues, not the lease TTL.
func NewEtcdStore(endpoints []string, prefix string, timeout time.Duration) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd: dial: %w", err)
	}
	return &EtcdStore{client: cli, prefix: prefix, timeout: timeout}, nil
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("etcd: get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// SetNX acquires a lease for ttl and puts key transactionally: the put
// only commits if the key's create revision is currently zero (absent).
// Since the lease expires the key server-side after ttl, an unrefreshed
// owner's key disappears on its own and a later SetNX for the same key
// succeeds without anyone polling for expiry.
func (s *EtcdStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lease, err := s.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("etcd: grant lease: %w", err)
	}
	full := s.prefix + key
	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(full), "=", 0)).
		Then(clientv3.OpPut(full, string(value), clientv3.WithLease(lease.ID)))
	resp, err := txn.Commit()
	if err != nil {
		return false, fmt.Errorf("etcd: setnx txn %s: %w", key, err)
	}
	if !resp.Succeeded {
		// lost the race or key still alive under its existing lease;
		// release the lease we just granted so it doesn't linger.
		_, _ = s.client.Revoke(ctx, lease.ID)
	}
	return resp.Succeeded, nil
}

// Set unconditionally replaces key under a fresh lease, used to refresh a
// lock this process already owns. A ttl of zero or less writes the key
// without a lease, so it never expires.
func (s *EtcdStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if ttl <= 0 {
		if _, err := s.client.Put(ctx, s.prefix+key, string(value)); err != nil {
			return fmt.Errorf("etcd: set %s: %w", key, err)
		}
		return nil
	}
	lease, err := s.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("etcd: grant lease: %w", err)
	}
	if _, err := s.client.Put(ctx, s.prefix+key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcd: set %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("etcd: delete %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) Close() error { return s.client.Close() }
