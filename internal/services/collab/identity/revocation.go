package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"go.etcd.io/bbolt"
)

// RevocationList records credentials that were logged out before expiry.
// Entries expire with the credential they revoke.
type RevocationList interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// Fingerprint returns the storage key for a credential; raw tokens are never
// persisted.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

const redisKeyPrefix = "codecollab:revoked:"

// RedisRevocationList stores revocations as expiring Redis keys, shared by
// every collab process pointed at the same Redis.
type RedisRevocationList struct {
	client *redis.Client
}

// NewRedisRevocationList parses a redis:// URL and pings the server.
func NewRedisRevocationList(ctx context.Context, redisURL string) (*RedisRevocationList, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisRevocationList{client: client}, nil
}

// IsRevoked reports whether the credential has been revoked.
func (r *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+Fingerprint(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// Revoke marks the credential revoked for ttl.
func (r *RedisRevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, redisKeyPrefix+Fingerprint(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisRevocationList) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

const revokedBucket = "revoked"

// BoltRevocationList stores revocations in a local BoltDB file for single
// node deployments. Expired entries are ignored on read and pruned on write.
type BoltRevocationList struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBoltRevocationList opens a BoltDB-backed revocation list at path.
func OpenBoltRevocationList(path string) (*BoltRevocationList, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("revocation path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open revocation db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(revokedBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create revocation bucket: %w", err)
	}
	return &BoltRevocationList{db: db, now: time.Now}, nil
}

// IsRevoked reports whether the credential has an unexpired revocation.
func (b *BoltRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var revoked bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(revokedBucket))
		if bucket == nil {
			return errors.New("revocation bucket is missing")
		}
		value := bucket.Get([]byte(Fingerprint(token)))
		if value == nil {
			return nil
		}
		expiresAt, err := time.Parse(time.RFC3339Nano, string(value))
		if err != nil {
			return fmt.Errorf("decode revocation expiry: %w", err)
		}
		revoked = b.now().Before(expiresAt)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return revoked, nil
}

// Revoke marks the credential revoked for ttl.
func (b *BoltRevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	now := b.now()
	expiresAt := now.Add(ttl).UTC().Format(time.RFC3339Nano)
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(revokedBucket))
		if bucket == nil {
			return errors.New("revocation bucket is missing")
		}
		if err := pruneExpired(bucket, now); err != nil {
			return err
		}
		return bucket.Put([]byte(Fingerprint(token)), []byte(expiresAt))
	})
}

func pruneExpired(bucket *bbolt.Bucket, now time.Time) error {
	var expired [][]byte
	err := bucket.ForEach(func(k, v []byte) error {
		expiresAt, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil || !now.Before(expiresAt) {
			expired = append(expired, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range expired {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying BoltDB database.
func (b *BoltRevocationList) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
