package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/repository"
)

// SessionRepo хранит сессии в таблице analytics_sessions (JSONB).
//
//	CREATE TABLE analytics_sessions (
//	    key        TEXT PRIMARY KEY,
//	    data       JSONB NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type SessionRepo struct {
	db  *sql.DB
	ttl time.Duration
}

// Open открывает пул соединений через pgx stdlib драйвер.
func Open(connString string, maxConns, minConns int32) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(int(maxConns))
	db.SetMaxIdleConns(int(minConns))
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// NewSessionRepo создает новый экземпляр репозитория
func NewSessionRepo(db *sql.DB, ttl time.Duration) *SessionRepo {
	return &SessionRepo{db: db, ttl: ttl}
}

func (r *SessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SessionRepo) Load(ctx context.Context, key string) (*analytics.Session, error) {
	query := `SELECT data FROM analytics_sessions WHERE key = $1 AND expires_at > NOW()`

	var data []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}

	var sess analytics.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &sess, nil
}

func (r *SessionRepo) Save(ctx context.Context, key string, sess *analytics.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}

	query := `
		INSERT INTO analytics_sessions (key, data, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, key, data, time.Now().Add(r.ttl)); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

// DeleteExpired чистит истекшие сессии, вызывается по таймеру.
func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analytics_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
