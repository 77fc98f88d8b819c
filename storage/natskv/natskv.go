// Package natskv persists snapshots in a NATS JetStream KV bucket. Use
// this backend when several gateway instances should recover from the same
// snapshot, or when the host has no durable local disk.
package natskv

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/storage"
)

// Store is a SnapshotStore backed by a JetStream KV bucket.
type Store struct {
	nc      *nats.Conn
	kv      jetstream.KeyValue
	timeout time.Duration
	logger  *component.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds each KV operation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// Connect dials NATS, ensures the snapshot bucket exists, and returns the
// store. The bucket keeps a single revision per key; snapshots supersede
// each other, there is no point keeping history.
func Connect(ctx context.Context, cfg config.NATSConfig, opts ...Option) (*Store, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: nats.urls is empty", errors.ErrMissingConfig),
			"natskv", "Connect", "read connection config")
	}
	if cfg.Bucket == "" {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: nats.bucket is empty", errors.ErrMissingConfig),
			"natskv", "Connect", "read connection config")
	}

	natsOpts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	}
	if cfg.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		natsOpts = append(natsOpts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(strings.Join(cfg.URLs, ","), natsOpts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "Connect", "connect to nats")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.WrapFatal(err, "natskv", "Connect", "create jetstream context")
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		History: 1,
	})
	if err != nil {
		nc.Close()
		return nil, errors.WrapFatal(err, "natskv", "Connect", fmt.Sprintf("ensure bucket %s", cfg.Bucket))
	}

	s := &Store{
		nc:      nc,
		kv:      kv,
		timeout: 5 * time.Second,
		logger:  component.NewLogger("natskv", nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("connected", "bucket", cfg.Bucket, "server", nc.ConnectedUrl())
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// Save writes the blob under key, last writer wins.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.kv.Put(ctx, sanitizeKey(key), data); err != nil {
		return errors.WrapTransient(err, "natskv", "Save", fmt.Sprintf("put key %s", key))
	}
	return nil
}

// Load returns the blob stored under key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.kv.Get(ctx, sanitizeKey(key))
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, storage.NotFound(key)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "Load", fmt.Sprintf("get key %s", key))
	}
	return entry.Value(), nil
}

// Delete purges the key and its revision history. Missing keys are fine.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.kv.Purge(ctx, sanitizeKey(key))
	if err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "natskv", "Delete", fmt.Sprintf("purge key %s", key))
	}
	return nil
}

// Close drains the connection so in-flight operations finish first.
func (s *Store) Close() error {
	if err := s.nc.Drain(); err != nil {
		return errors.WrapTransient(err, "natskv", "Close", "drain connection")
	}
	return nil
}

// sanitizeKey maps arbitrary snapshot keys onto the KV key alphabet.
// JetStream KV keys allow alphanumerics plus "-", "_", "/", "=", ".".
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '/', r == '=', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
