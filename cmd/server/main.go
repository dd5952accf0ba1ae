// Command server starts the mediagate HTTP service: token issuing plus the
// media upload/download gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediagate/internal/api"
	"mediagate/internal/auth"
	"mediagate/internal/blob"
	"mediagate/internal/observability/logging"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/queue"
	"mediagate/internal/reconcile"
	"mediagate/internal/server"
	"mediagate/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the credential store")
	credentialTable := flag.String("credential-table", "", "Postgres table holding login credentials")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	migrate := flag.Bool("migrate", false, "run credential store migrations before serving")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret used to sign bearer tokens")
	tokenLifetime := flag.Duration("token-lifetime", 0, "bearer token validity window")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectPathStyle := flag.Bool("object-path-style", false, "use path-style object storage addressing")
	videoBucket := flag.String("video-bucket", "", "bucket receiving raw uploads")
	trackBucket := flag.String("track-bucket", "", "bucket serving converted tracks")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for job dispatch")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for job dispatch")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for job dispatch")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for job dispatch")
	queueRedisStream := flag.String("queue-redis-stream", "", "Redis stream key for job entries")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for job dispatch")
	queueRedisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for job dispatch")
	queueRedisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate for job dispatch")
	queueRedisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate for job dispatch")
	queueRedisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key for job dispatch")
	queueRedisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name for job dispatch")
	queueRedisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification for job dispatch")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")
	reconcileInterval := flag.Duration("reconcile-interval", 0, "how often the orphan blob sweep runs (0 uses the default)")
	reconcileGrace := flag.Duration("reconcile-grace", 0, "how long a blob may exist without a dispatched job")
	reconcileDisabled := flag.Bool("reconcile-disable", false, "disable the orphan blob sweeper")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAGATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAGATE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("MEDIAGATE_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	secret := firstNonEmpty(*jwtSecret, os.Getenv("MEDIAGATE_JWT_SECRET"))
	if secret == "" {
		logger.Error("jwt secret is required")
		os.Exit(1)
	}
	tokens := auth.NewTokenService([]byte(secret), resolveDuration(*tokenLifetime, "MEDIAGATE_TOKEN_LIFETIME", auth.DefaultTokenLifetime))

	dsn := firstNonEmpty(*postgresDSN, os.Getenv("MEDIAGATE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if dsn == "" {
		logger.Error("postgres dsn is required")
		os.Exit(1)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	if resolveBool(*migrate, "MEDIAGATE_MIGRATE") {
		if err := storage.RunMigrations(bootCtx, dsn); err != nil {
			logger.Error("credential store migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("credential store migrations applied")
	}

	store, err := storage.NewPostgresRepository(storage.PostgresConfig{
		DSN:             dsn,
		Table:           firstNonEmpty(*credentialTable, os.Getenv("MEDIAGATE_CREDENTIAL_TABLE")),
		MaxConnections:  int32(resolveInt(*postgresMaxConns, "MEDIAGATE_POSTGRES_MAX_CONNS")),
		MinConnections:  int32(resolveInt(*postgresMinConns, "MEDIAGATE_POSTGRES_MIN_CONNS")),
		MaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "MEDIAGATE_POSTGRES_MAX_CONN_LIFETIME", 0),
		MaxConnIdleTime: resolveDuration(*postgresMaxConnIdle, "MEDIAGATE_POSTGRES_MAX_CONN_IDLE", 0),
		AcquireTimeout:  resolveDuration(*postgresAcquireTimeout, "MEDIAGATE_POSTGRES_ACQUIRE_TIMEOUT", 0),
		ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("MEDIAGATE_POSTGRES_APP_NAME")),
	})
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}

	blobCfg := blob.Config{
		Endpoint:     firstNonEmpty(*objectEndpoint, os.Getenv("MEDIAGATE_OBJECT_ENDPOINT")),
		Region:       firstNonEmpty(*objectRegion, os.Getenv("MEDIAGATE_OBJECT_REGION")),
		AccessKey:    firstNonEmpty(*objectAccessKey, os.Getenv("MEDIAGATE_OBJECT_ACCESS_KEY")),
		SecretKey:    firstNonEmpty(*objectSecretKey, os.Getenv("MEDIAGATE_OBJECT_SECRET_KEY")),
		UsePathStyle: resolveBool(*objectPathStyle, "MEDIAGATE_OBJECT_PATH_STYLE"),
	}
	videoCfg := blobCfg
	videoCfg.Bucket = firstNonEmpty(*videoBucket, os.Getenv("MEDIAGATE_VIDEO_BUCKET"))
	videos, err := blob.NewStore(bootCtx, videoCfg)
	if err != nil {
		logger.Error("failed to open video store", "error", err)
		os.Exit(1)
	}
	trackCfg := blobCfg
	trackCfg.Bucket = firstNonEmpty(*trackBucket, os.Getenv("MEDIAGATE_TRACK_BUCKET"))
	tracks, err := blob.NewStore(bootCtx, trackCfg)
	if err != nil {
		logger.Error("failed to open track store", "error", err)
		os.Exit(1)
	}

	jobs, err := queue.NewRedisPublisher(queue.RedisConfig{
		Addr:       firstNonEmpty(*queueRedisAddr, os.Getenv("MEDIAGATE_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("MEDIAGATE_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*queueRedisUsername, os.Getenv("MEDIAGATE_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*queueRedisPassword, os.Getenv("MEDIAGATE_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*queueRedisStream, os.Getenv("MEDIAGATE_QUEUE_REDIS_STREAM")),
		MasterName: firstNonEmpty(*queueRedisMasterName, os.Getenv("MEDIAGATE_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*queueRedisPoolSize, "MEDIAGATE_QUEUE_REDIS_POOL_SIZE"),
		Logger:     logging.WithComponent(logger, "queue"),
		TLS: queue.RedisTLSConfig{
			CAFile:             firstNonEmpty(*queueRedisTLSCA, os.Getenv("MEDIAGATE_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*queueRedisTLSCert, os.Getenv("MEDIAGATE_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*queueRedisTLSKey, os.Getenv("MEDIAGATE_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*queueRedisTLSServerName, os.Getenv("MEDIAGATE_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*queueRedisTLSSkipVerify, "MEDIAGATE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	})
	if err != nil {
		logger.Error("failed to configure job queue", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, tokens)
	handler.Videos = videos
	handler.Tracks = tracks
	handler.Jobs = jobs
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")
	handler.MaxUploadBytes = resolveInt64(*maxUploadBytes, "MEDIAGATE_MAX_UPLOAD_BYTES")

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sweepStop := func() {}
	if !resolveBool(*reconcileDisabled, "MEDIAGATE_RECONCILE_DISABLE") {
		sweeper := &reconcile.Sweeper{
			Blobs:    videos,
			Jobs:     jobs,
			Grace:    resolveDuration(*reconcileGrace, "MEDIAGATE_RECONCILE_GRACE", 0),
			Interval: resolveDuration(*reconcileInterval, "MEDIAGATE_RECONCILE_INTERVAL", 0),
			Logger:   logging.WithComponent(logger, "reconcile"),
			Metrics:  recorder,
		}
		sweepStop = sweeper.Start(workerCtx)
	}
	defer sweepStop()

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIAGATE_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIAGATE_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr:    listenAddr,
		TLS:     tlsCfg,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("mediagate listening", "addr", listenAddr)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sweepStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if err := jobs.Close(); err != nil {
		logger.Warn("failed to close job queue", "error", err)
	}

	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close credential store", "error", err)
	}

	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
