package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/repository"
)

// SessionStore хранит сессии в Redis строками JSON с TTL.
// Redis не сериализует запросы одной сессии: при параллельных запросах
// побеждает последняя запись.
type SessionStore struct {
	rdb goredis.Cmdable
	ttl time.Duration
}

func NewSessionStore(rdb goredis.Cmdable, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func (s *SessionStore) Load(ctx context.Context, key string) (*analytics.Session, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeSession(key, data)
}

func (s *SessionStore) Save(ctx context.Context, key string, sess *analytics.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	// TTL продлевается на каждом запросе, как у серверной сессии
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func decodeSession(key string, data []byte) (*analytics.Session, error) {
	var sess analytics.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &sess, nil
}
