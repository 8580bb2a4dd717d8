// Package discovery publishes node addresses in etcd and resolves peers from it.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/benor/pkg/peer"
)

// Prefix is the etcd key prefix under which nodes register as Prefix+ordinal.
const Prefix = "/benor/nodes/"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterNode writes ordinal -> addr under a lease kept alive until cancel is called.
func RegisterNode(ctx context.Context, cli *clientv3.Client, ordinal int, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, Key(ordinal), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", Key(ordinal), err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

func Key(ordinal int) string {
	return Prefix + strconv.Itoa(ordinal)
}

// ParseKey extracts the ordinal from a registration key.
func ParseKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, Prefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Resolver is a peer.Resolver fed by an etcd watch.
type Resolver struct {
	mu    sync.RWMutex
	addrs map[int]string
	log   *zap.Logger
}

var _ peer.Resolver = (*Resolver)(nil)

func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{addrs: make(map[int]string), log: log}
}

func (r *Resolver) Addr(ordinal int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addrs[ordinal]
	return a, ok
}

// Len returns how many peers are currently known.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addrs)
}

// Set records or replaces ordinal's address.
func (r *Resolver) Set(ordinal int, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[ordinal] = peer.NormalizeHostPort(addr, "3000")
}

func (r *Resolver) Delete(ordinal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, ordinal)
}

// Load bootstraps the table from the current registrations.
func (r *Resolver) Load(ctx context.Context, cli *clientv3.Client) (int64, error) {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", Prefix, err)
	}
	for _, kv := range resp.Kvs {
		if i, ok := ParseKey(string(kv.Key)); ok {
			r.Set(i, string(kv.Value))
			r.log.Debug("peer loaded", zap.Int("peer", i), zap.ByteString("addr", kv.Value))
		}
	}
	return resp.Header.Revision, nil
}

// Watch applies registration changes after rev until ctx ends.
func (r *Resolver) Watch(ctx context.Context, cli *clientv3.Client, rev int64) {
	for wresp := range cli.Watch(ctx, Prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1)) {
		if err := wresp.Err(); err != nil {
			r.log.Warn("watch error", zap.Error(err))
			continue
		}
		for _, ev := range wresp.Events {
			i, ok := ParseKey(string(ev.Kv.Key))
			if !ok {
				continue
			}
			switch ev.Type {
			case mvccpb.PUT:
				r.Set(i, string(ev.Kv.Value))
				r.log.Info("peer joined", zap.Int("peer", i), zap.ByteString("addr", ev.Kv.Value))
			case mvccpb.DELETE:
				r.Delete(i)
				r.log.Info("peer left", zap.Int("peer", i))
			}
		}
	}
}
