package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	refinementcache "refinery/internal/cache/refinement"
	"refinery/internal/gateway/config"
	refinementrepo "refinery/internal/gateway/repository/refinement"
)

type gatewayStores struct {
	refinement refinementrepo.Store
	close      func() error
}

func initStores(cfg *config.Config, logger *slog.Logger) (*gatewayStores, error) {
	var (
		origin refinementrepo.Store
		closer = func() error { return nil }
	)
	switch backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend)); backend {
	case "", "memory":
		origin = refinementrepo.NewMemoryStore()
		logger.Info("refinement store: in-memory")
	case "postgres":
		dsn := strings.TrimSpace(cfg.Store.DatabaseURL)
		if dsn == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		origin = refinementrepo.NewPostgresStore(db)
		closer = db.Close
		logger.Info("refinement store: postgres")
	case "s3":
		s3Cfg := refinementrepo.S3Config{
			Endpoint:  cfg.Store.S3.Endpoint,
			Region:    cfg.Store.S3.Region,
			AccessKey: cfg.Store.S3.AccessKey,
			SecretKey: cfg.Store.S3.SecretKey,
			Bucket:    cfg.Store.S3.Bucket,
			UseSSL:    cfg.Store.S3.UseSSL,
		}
		s3Store, err := refinementrepo.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize refinement s3 store: %w", err)
		}
		origin = s3Store
		logger.Info("refinement store: s3", "bucket", s3Cfg.Bucket, "endpoint", s3Cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want memory, postgres or s3)", backend)
	}

	cacheCfg := refinementcache.DefaultCacheConfig()
	cacheCfg.HistoryTTL = cfg.Store.CacheTTL
	return &gatewayStores{
		refinement: refinementcache.NewCachedStore(origin, cacheCfg),
		close:      closer,
	}, nil
}
