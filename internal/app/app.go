// Package app assembles the intake pipeline from configuration. The HTTP
// server and the Lambda entry point share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/zifrone/contact/internal/archive"
	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/csrf"
	"github.com/zifrone/contact/internal/health"
	"github.com/zifrone/contact/internal/intake"
	"github.com/zifrone/contact/internal/mail"
	"github.com/zifrone/contact/internal/metrics"
	"github.com/zifrone/contact/internal/ratelimit"
)

const (
	dbStatsInterval = 15 * time.Second
	purgeInterval   = time.Hour
)

// Service is the wired pipeline and the resources it owns
type Service struct {
	Config  *config.Config
	Handler *intake.Handler
	Limiter ratelimit.Limiter
	// CSRF is nil when no secret is configured
	CSRF   *csrf.Manager
	Checks []health.Check

	memory  *ratelimit.MemoryStore
	redis   *redis.Client
	db      *sqlx.DB
	objects *archive.ObjectStore
	stats   *metrics.DBStatsCollector
	log     *slog.Logger
}

// Build connects the configured backends and creates the intake handler
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Service, error) {
	s := &Service{Config: cfg, log: log}

	if err := s.buildLimiter(ctx); err != nil {
		return nil, err
	}
	arch, err := s.buildArchive(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.CSRF.Secret != "" {
		s.CSRF, err = csrf.NewManager(csrf.Config{Secret: cfg.CSRF.Secret, TTL: cfg.CSRF.TTL})
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	composer, err := mail.NewComposer(mail.ComposerConfig{
		FromName:      cfg.Mail.FromName,
		FromAddress:   cfg.FromAddress(),
		To:            cfg.Mail.ContactEmail,
		SubjectPrefix: cfg.Mail.SubjectPrefix,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	hostname, _ := os.Hostname()
	sender := mail.NewThrottledSender(mail.NewSMTPSender(mail.SMTPConfig{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Secure:             cfg.SMTP.Secure,
		Username:           cfg.SMTP.User,
		Password:           cfg.SMTP.Pass,
		Timeout:            cfg.SMTP.Timeout,
		LocalName:          hostname,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}), cfg.SMTP.MaxPerSecond, cfg.SMTP.Burst)

	opts := intake.Options{
		Composer:          composer,
		Sender:            sender,
		Limiter:           s.Limiter,
		MaxRequests:       cfg.RateLimit.Requests,
		Window:            cfg.RateLimit.Window,
		AllowedOrigin:     cfg.AllowedOrigin(),
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		DispatchTimeout:   cfg.Server.DispatchTimeout,
		EnforceCSRF:       cfg.CSRF.Enforce,
		Logger:            log,
	}
	if arch != nil {
		opts.Archiver = arch
	}
	if s.CSRF != nil {
		opts.CSRF = s.CSRF
	}

	s.Handler, err = intake.NewHandler(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) buildLimiter(ctx context.Context) error {
	cfg := s.Config
	if cfg.RateLimit.Backend != "redis" {
		s.memory = ratelimit.NewMemoryStore(
			ratelimit.WithRetention(cfg.RateLimit.Retention),
			ratelimit.WithLogger(s.log),
		)
		s.Limiter = s.memory
		s.log.Info("rate limiter is process-local; each instance enforces its own limit")
		return nil
	}

	s.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := s.redis.Ping(ctx).Err(); err != nil {
		// checks fail open until Redis is reachable
		s.log.Warn("redis unreachable at startup", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
	}
	s.Limiter = ratelimit.NewRedisStore(s.redis, ratelimit.WithRedisRetention(cfg.RateLimit.Retention))
	s.Checks = append(s.Checks, health.Redis(s.redis))
	return nil
}

func (s *Service) buildArchive(ctx context.Context) (*archive.Archiver, error) {
	cfg := s.Config
	if !cfg.ArchiveEnabled() {
		return nil, nil
	}

	var records archive.RecordStore
	if cfg.Database.URL != "" {
		db, err := archive.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		s.db = db
		records = archive.NewRepository(db)
		s.Checks = append(s.Checks, health.Database(db))
	}

	var objects archive.ObjectWriter
	if cfg.Storage.Bucket != "" {
		store, err := archive.NewObjectStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		s.objects = store
		objects = store
	}

	arch, err := archive.NewArchiver(records, objects, cfg.Storage.Prefix, s.log)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	s.log.Info("archive enabled",
		slog.Bool("database", s.db != nil),
		slog.Bool("storage", s.objects != nil),
	)
	return arch, nil
}

// Start launches the background jobs: the memory limiter sweep, archive
// retention and pool statistics. They stop with ctx.
func (s *Service) Start(ctx context.Context) {
	if s.memory != nil {
		s.memory.StartJanitor(ctx, s.Config.RateLimit.Sweep)
	}
	if s.db == nil {
		return
	}
	s.stats = metrics.NewDBStatsCollector(s.db, s.log)
	s.stats.Start(dbStatsInterval)
	if s.Config.Database.Retention > 0 {
		archive.NewPurger(archive.NewRepository(s.db), s.objects, s.log).
			Start(ctx, s.Config.Database.Retention, purgeInterval)
	}
}

// Close releases connections
func (s *Service) Close() error {
	var errs []error
	if s.stats != nil {
		s.stats.Stop()
		s.stats = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
