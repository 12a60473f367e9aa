// Package config loads server configuration from the environment and builds
// a fully wired service from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/go-units"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookvault/bookvault/pkg/bookvault"
	"github.com/bookvault/bookvault/pkg/bookvault/covergen"
	"github.com/bookvault/bookvault/pkg/bookvault/jobqueue"
	repomemory "github.com/bookvault/bookvault/pkg/bookvault/repo/memory"
	repopg "github.com/bookvault/bookvault/pkg/bookvault/repo/postgres"
	fsstorage "github.com/bookvault/bookvault/pkg/bookvault/storage/fs"
	memorystorage "github.com/bookvault/bookvault/pkg/bookvault/storage/memory"
	s3storage "github.com/bookvault/bookvault/pkg/bookvault/storage/s3"
	"github.com/bookvault/bookvault/pkg/bookvault/urlcache"
)

// ServerConfig represents server configuration for the bookvault service.
// Size limits are human-readable strings ("100MB", "5GB").
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	// Database configuration. Empty DATABASE_URL selects the in-memory
	// repository.
	DatabaseURL string `env:"DATABASE_URL" env-default:""`

	// Storage configuration
	StorageBackend string `env:"STORAGE_BACKEND" env-default:"memory"` // memory, fs, s3
	FS             FSConfig
	S3             S3Config

	// Upload limits
	MaxFileSize        string `env:"MAX_FILE_SIZE" env-default:"100MB"`
	SyncCoverThreshold string `env:"SYNC_COVER_THRESHOLD" env-default:"30MB"`
	StorageQuota       string `env:"STORAGE_QUOTA" env-default:"5GB"`

	// Cover generation
	CoverHelperPath string        `env:"COVER_HELPER_PATH" env-default:""`
	CoverScratchDir string        `env:"COVER_SCRATCH_DIR" env-default:""`
	CoverTimeout    time.Duration `env:"COVER_TIMEOUT" env-default:"45s"`
	MaxCoverJobs    int           `env:"MAX_COVER_JOBS" env-default:"5"`

	// Signed URL cache
	URLCacheTTL     time.Duration `env:"URL_CACHE_TTL" env-default:"1h"`
	URLCacheEntries int           `env:"URL_CACHE_ENTRIES" env-default:"500"`

	// Auth
	JWTSecret string `env:"JWT_SECRET" env-default:""`

	EnableEventLogging bool `env:"ENABLE_EVENT_LOGGING" env-default:"true"`
}

// FSConfig configures the filesystem storage backend.
type FSConfig struct {
	BaseDir   string `env:"FS_BASE_DIR" env-default:"./data/storage"`
	URLPrefix string `env:"FS_URL_PREFIX" env-default:"http://localhost:8080"`
	SecretKey string `env:"FS_SECRET_KEY" env-default:""`
}

// S3Config configures the S3 storage backend.
type S3Config struct {
	Endpoint        string `env:"AWS_S3_ENDPOINT" env-default:""`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" env-default:""`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	Bucket          string `env:"AWS_S3_BUCKET" env-default:"bookvault"`
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

// Load reads configuration from the environment.
func Load() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.StorageBackend {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("storage_backend must be 'memory', 'fs' or 's3', got %q", c.StorageBackend)
	}

	if _, err := c.Limits(); err != nil {
		return err
	}

	return nil
}

// Limits parses the human-readable size settings.
func (c *ServerConfig) Limits() (bookvault.Limits, error) {
	maxFile, err := units.FromHumanSize(c.MaxFileSize)
	if err != nil {
		return bookvault.Limits{}, fmt.Errorf("invalid MAX_FILE_SIZE %q: %w", c.MaxFileSize, err)
	}
	threshold, err := units.FromHumanSize(c.SyncCoverThreshold)
	if err != nil {
		return bookvault.Limits{}, fmt.Errorf("invalid SYNC_COVER_THRESHOLD %q: %w", c.SyncCoverThreshold, err)
	}
	quota, err := units.FromHumanSize(c.StorageQuota)
	if err != nil {
		return bookvault.Limits{}, fmt.Errorf("invalid STORAGE_QUOTA %q: %w", c.StorageQuota, err)
	}
	return bookvault.Limits{
		MaxFileBytes:       maxFile,
		SyncThresholdBytes: threshold,
		QuotaBytes:         quota,
	}, nil
}

// App bundles the wired service with the components the server has to manage
// directly (queue shutdown, database pool).
type App struct {
	Service bookvault.Service
	Queue   *jobqueue.Queue
	Pool    *pgxpool.Pool

	// FSStore is set when the filesystem backend is active so the server can
	// mount the signed-download route.
	FSStore *fsstorage.Backend
}

// Close releases the app's background resources.
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// BuildApp creates a wired service from the configuration.
func (c *ServerConfig) BuildApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	app := &App{}

	repo, pool, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	app.Pool = pool

	store, err := c.buildStorageBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.StorageBackend, err)
	}
	if fsb, ok := store.(*fsstorage.Backend); ok {
		app.FSStore = fsb
	}

	limits, err := c.Limits()
	if err != nil {
		return nil, err
	}

	var events bookvault.EventSink = bookvault.NewNoopEventSink()
	if c.EnableEventLogging {
		events = bookvault.NewLogEventSink(logger)
	}

	options := []bookvault.Option{
		bookvault.WithRepository(repo),
		bookvault.WithBlobStore(store),
		bookvault.WithEventSink(events),
		bookvault.WithLogger(logger),
		bookvault.WithLimits(limits),
	}

	if c.CoverHelperPath != "" {
		gen, err := covergen.New(store, covergen.Config{
			HelperPath: c.CoverHelperPath,
			ScratchDir: c.CoverScratchDir,
			Timeout:    c.CoverTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build cover generator: %w", err)
		}

		app.Queue = jobqueue.New(gen, repo,
			jobqueue.Config{MaxRunning: c.MaxCoverJobs},
			jobqueue.WithEventSink(events),
			jobqueue.WithLogger(logger))

		options = append(options,
			bookvault.WithCoverGenerator(gen),
			bookvault.WithJobQueue(app.Queue))
	} else {
		logger.Warn("COVER_HELPER_PATH not set; cover generation disabled")
	}

	urls := urlcache.NewForBlobStore(store, urlcache.Config{
		TTL:        c.URLCacheTTL,
		MaxEntries: c.URLCacheEntries,
	})
	options = append(options, bookvault.WithURLProvider(urls))

	svc, err := bookvault.New(options...)
	if err != nil {
		return nil, err
	}
	app.Service = svc

	return app, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (bookvault.Repository, *pgxpool.Pool, error) {
	if c.DatabaseURL == "" || c.DatabaseURL == "memory" {
		return repomemory.New(), nil, nil
	}

	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET search_path TO bookvault, public")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := repopg.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return repopg.NewWithPool(pool), pool, nil
}

// buildStorageBackend creates a BlobStore based on the configuration
func (c *ServerConfig) buildStorageBackend() (bookvault.BlobStore, error) {
	switch c.StorageBackend {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   c.FS.BaseDir,
			URLPrefix: c.FS.URLPrefix,
			SecretKey: c.FS.SecretKey,
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.StorageBackend)
	}
}
