package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagate/internal/models"
)

// DefaultCredentialTable is used when no table name is configured.
const DefaultCredentialTable = "auth_user"

// PostgresConfig describes how the repository initialises its Postgres
// connection pool and which table holds credential rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

type postgresRepository struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgresRepository opens a pooled Postgres-backed credential store. The
// pool is created once at startup and shared by every login request; callers
// must ensure migrations have been applied first.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	table, err := quoteTable(cfg.Table)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	return &postgresRepository{
		pool:  pool,
		query: fmt.Sprintf("SELECT email, password FROM %s WHERE email = $1", table),
	}, nil
}

func (r *postgresRepository) LookupCredential(ctx context.Context, identifier string) (models.Credential, error) {
	var cred models.Credential
	err := r.pool.QueryRow(ctx, r.query, identifier).Scan(&cred.Email, &cred.Password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credential{}, ErrCredentialNotFound
		}
		return models.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return cred, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// quoteTable validates and quotes the configured credential table name. The
// name is configuration, not user input, but it is still interpolated into
// SQL and must never carry quoting tricks. Schema-qualified names are
// supported.
func quoteTable(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = DefaultCredentialTable
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid credential table %q", name)
	}
	ident := make(pgx.Identifier, 0, len(parts))
	for _, part := range parts {
		if !validIdent(part) {
			return "", fmt.Errorf("invalid credential table %q", name)
		}
		ident = append(ident, part)
	}
	return ident.Sanitize(), nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
