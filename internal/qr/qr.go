// Package qr issues and resolves the opaque tokens printed as QR codes at an
// establishment.  A token maps to exactly one queue until it expires.
package qr

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// Token is an issued QR token.
type Token struct {
	Value     string    `json:"token"`
	QueueID   uint64    `json:"queue_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store issues and resolves tokens.
type Store interface {
	Issue(ctx context.Context, queueID uint64) (Token, error)
	Resolve(ctx context.Context, token string) (uint64, error)
}

// normalize rejects anything that is not a uuid before touching storage.
func normalize(token string) (string, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return "", errors.Wrap(model.ErrInvalidToken, "malformed token")
	}
	return id.String(), nil
}

// RedisStore keeps tokens as `<prefix>:<uuid>` keys holding the queue id.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a Redis backed store.  A non-positive ttl means 24h.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if prefix == "" {
		prefix = "qr"
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(token string) string { return s.prefix + ":" + token }

// Issue creates a token for the queue.
func (s *RedisStore) Issue(ctx context.Context, queueID uint64) (Token, error) {
	tok := Token{Value: uuid.NewString(), QueueID: queueID, ExpiresAt: s.now().UTC().Add(s.ttl)}
	if err := s.rdb.Set(ctx, s.key(tok.Value), strconv.FormatUint(queueID, 10), s.ttl).Err(); err != nil {
		return Token{}, errors.Wrap(err, "store qr token")
	}
	return tok, nil
}

// Resolve returns the queue id of a live token or model.ErrInvalidToken.
func (s *RedisStore) Resolve(ctx context.Context, token string) (uint64, error) {
	token, err := normalize(token)
	if err != nil {
		return 0, err
	}
	v, err := s.rdb.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, errors.Wrap(model.ErrInvalidToken, "unknown or expired token")
	}
	if err != nil {
		return 0, errors.Wrap(err, "load qr token")
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(model.ErrInvalidToken, "corrupt token value %q", v)
	}
	return id, nil
}

// MemoryStore keeps tokens in process.  It serves when Redis is unavailable.
type MemoryStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]Token
	now    func() time.Time
}

// NewMemoryStore returns an empty in-process store.  A non-positive ttl means
// 24h.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, tokens: map[string]Token{}, now: time.Now}
}

// Issue creates a token for the queue.
func (s *MemoryStore) Issue(_ context.Context, queueID uint64) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := Token{Value: uuid.NewString(), QueueID: queueID, ExpiresAt: s.now().UTC().Add(s.ttl)}
	s.tokens[tok.Value] = tok
	return tok, nil
}

// Resolve returns the queue id of a live token or model.ErrInvalidToken.
func (s *MemoryStore) Resolve(_ context.Context, token string) (uint64, error) {
	token, err := normalize(token)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return 0, errors.Wrap(model.ErrInvalidToken, "unknown token")
	}
	if !s.now().Before(tok.ExpiresAt) {
		delete(s.tokens, token)
		return 0, errors.Wrap(model.ErrInvalidToken, "expired token")
	}
	return tok.QueueID, nil
}

// Purge drops expired tokens and returns how many were removed.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, tok := range s.tokens {
		if !now.Before(tok.ExpiresAt) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}
