package queue

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mediagate/internal/models"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisConfig configures the Redis Streams publisher.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MasterName   string
	Logger       *slog.Logger
	TLS          RedisTLSConfig
}

// RedisPublisher appends jobs to a Redis stream. The underlying client owns a
// connection pool, so one publisher instance serves all concurrent request
// handlers without extra locking.
type RedisPublisher struct {
	client redis.UniversalClient
	stream string
	logger *slog.Logger
}

// NewRedisPublisher connects to the broker. The caller is responsible for
// ensuring the Redis instance is reachable.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "mediagate:jobs"
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	publisher := &RedisPublisher{
		client: client,
		stream: stream,
		logger: cfg.Logger,
	}
	if publisher.logger == nil {
		publisher.logger = slog.Default()
	}
	return publisher, nil
}

// Publish appends one job entry. No broker acknowledgment is awaited beyond
// the XADD reply; loss after return is invisible here.
func (p *RedisPublisher) Publish(ctx context.Context, job models.Job) error {
	if strings.TrimSpace(job.BlobID) == "" {
		return errors.New("job blob id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// DispatchedSince collects the blob ids of every job entry appended at or
// after the given time. A zero time scans the whole stream.
func (p *RedisPublisher) DispatchedSince(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	start := "-"
	if !since.IsZero() {
		start = fmt.Sprintf("%d-0", since.UnixMilli())
	}
	messages, err := p.client.XRange(ctx, p.stream, start, "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("scan dispatched jobs: %w", err)
	}
	dispatched := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		payload, ok := asString(msg.Values["payload"])
		if !ok || payload == "" {
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			p.logger.Warn("job entry decode failed", "stream_id", msg.ID, "error", err)
			continue
		}
		if job.BlobID != "" {
			dispatched[job.BlobID] = struct{}{}
		}
	}
	return dispatched, nil
}

// Close releases the client connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
