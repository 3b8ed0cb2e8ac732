package coord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/tarungka/monsoon/internal/logger"
)

// EtcdConfig configures the etcd-backed session.
type EtcdConfig struct {
	// Endpoints of the etcd cluster, e.g. ["127.0.0.1:2379"].
	Endpoints []string
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
	// SessionTTL is the lease TTL in seconds for ephemeral nodes.
	SessionTTL int
}

// EtcdStore binds the Store capability to etcd. Ephemerals are keys attached
// to a kept-alive lease; children are a key prefix; watches are etcd watches
// coalesced into notification channels.
type EtcdStore struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  zerolog.Logger
}

var _ Store = (*EtcdStore)(nil)

// Connect establishes the client and the lease session. The client retries
// transport failures internally; lease expiry surfaces on Done.
func Connect(ctx context.Context, cfg EtcdConfig) (*EtcdStore, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 10
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(cfg.SessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	return &EtcdStore{
		client:  client,
		session: session,
		logger:  logger.GetLogger("coord"),
	}, nil
}

func (s *EtcdStore) RegisterEphemeral(ctx context.Context, path string, data []byte) error {
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(data), clientv3.WithLease(s.session.Lease()))).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConnection, err)
	}
	if !resp.Succeeded {
		return ErrNodeExists
	}
	s.logger.Debug().Str("path", path).Msg("registered ephemeral node")
	return nil
}

func (s *EtcdStore) CreatePersistent(ctx context.Context, path string, data []byte) error {
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConnection, err)
	}
	if !resp.Succeeded {
		return ErrNodeExists
	}
	return nil
}

func (s *EtcdStore) Set(ctx context.Context, path string, data []byte) (Stat, error) {
	resp, err := s.client.Put(ctx, path, string(data))
	if err != nil {
		return Stat{}, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	return Stat{Version: resp.Header.Revision}, nil
}

func (s *EtcdStore) Get(ctx context.Context, path string) ([]byte, Stat, error) {
	resp, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, Stat{}, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	if resp.Count == 0 {
		return nil, Stat{}, ErrNoNode
	}
	kv := resp.Kvs[0]
	return kv.Value, Stat{Version: kv.Version}, nil
}

func (s *EtcdStore) Children(ctx context.Context, path string) (map[string][]byte, error) {
	prefix := childPrefix(path)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	out := make(map[string][]byte, resp.Count)
	for _, kv := range resp.Kvs {
		name := strings.TrimPrefix(string(kv.Key), prefix)
		// Only direct children; etcd prefixes are a flat namespace.
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		out[name] = kv.Value
	}
	return out, nil
}

func (s *EtcdStore) WatchChildren(ctx context.Context, path string) (<-chan struct{}, error) {
	wch := s.client.Watch(clientv3.WithRequireLeader(ctx), childPrefix(path), clientv3.WithPrefix())
	// A membership watch fires on registration changes only. An etcd prefix
	// watch also reports plain value updates, which must not look like
	// membership churn.
	return s.pump(ctx, wch, func(ev *clientv3.Event) bool {
		return ev.Type == clientv3.EventTypeDelete || ev.IsCreate()
	}), nil
}

func (s *EtcdStore) WatchData(ctx context.Context, path string) (<-chan struct{}, error) {
	wch := s.client.Watch(clientv3.WithRequireLeader(ctx), path)
	return s.pump(ctx, wch, func(*clientv3.Event) bool { return true }), nil
}

// pump coalesces etcd watch responses into a notification channel.
func (s *EtcdStore) pump(ctx context.Context, wch clientv3.WatchChan, relevant func(*clientv3.Event) bool) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.session.Done():
				return
			case resp, ok := <-wch:
				if !ok {
					return
				}
				if err := resp.Err(); err != nil {
					s.logger.Err(err).Msg("watch error, notifying watcher to re-read")
					notify(ch)
					continue
				}
				for _, ev := range resp.Events {
					if relevant(ev) {
						notify(ch)
						break
					}
				}
			}
		}
	}()
	return ch
}

func (s *EtcdStore) Done() <-chan struct{} {
	return s.session.Done()
}

func (s *EtcdStore) Close() error {
	err := s.session.Close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func childPrefix(path string) string {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
