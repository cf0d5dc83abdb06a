package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/cache"
	"github.com/asd12288/meydacrm/internal/config"
	"github.com/asd12288/meydacrm/internal/db"
	"github.com/asd12288/meydacrm/internal/email"
	"github.com/asd12288/meydacrm/internal/geocode"
	"github.com/asd12288/meydacrm/internal/jobs"
	"github.com/asd12288/meydacrm/internal/logging"
	"github.com/asd12288/meydacrm/internal/metrics"
	"github.com/asd12288/meydacrm/internal/web"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the CRM server",
		Long:  "Start the HTTP API, the websocket hub and the maintenance jobs. Configuration comes from .env, CRM_CONFIG and CRM_* variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: CRM_ADDR or :8080)")

	return cmd
}

func runServe(ctx context.Context, addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	logging.Setup(cfg.DevMode)

	dsn, err := dbDSN(cfg)
	if err != nil {
		return err
	}
	database, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer closeDB(database)

	created, err := auth.NewProfileStore(database).EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("username", cfg.AdminUsername).Msg("created initial admin profile")
	}

	m := metrics.New()
	svc := web.Services{Metrics: m}

	var store cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rc, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, "crm:")
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rc.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis")
			}
		}()
		store = rc
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis cache")
	}
	svc.Cache = store

	if cfg.GeocodeURL != "" {
		svc.Geocoder = geocode.NewClient(cfg.GeocodeURL, cache.Instrument(store, "geocode", m.CacheRequests),
			geocode.WithTTL(cfg.GeocodeCacheTTL),
			geocode.WithRateLimit(cfg.GeocodeRPS),
			geocode.WithOutcomes(m.GeocodeOutcomes),
		)
	}

	if cfg.SMTPConfigured() {
		svc.Mailer = email.NewSMTP(email.SMTPConfig{
			Host: cfg.SMTP.Host, Port: cfg.SMTP.Port, User: cfg.SMTP.User, Pass: cfg.SMTP.Pass, From: cfg.SMTP.From,
		})
	} else {
		log.Warn().Msg("SMTP not configured, emails will be logged")
	}

	srv, err := web.NewServer(database, web.Config{
		BaseURL:  cfg.BaseURL,
		DevMode:  cfg.DevMode,
		StatsTTL: cfg.StatsCacheTTL,
	}, svc)
	if err != nil {
		return err
	}

	sched := jobs.New(log.Logger, m.JobRuns)
	if err := srv.Maintenance(cfg.TrashRetention).Register(sched); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("stopping jobs")
		}
	}()

	return srv.ListenAndServe(ctx, cfg.Addr)
}
