package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"aidpanel.org/internal/auth"
	"aidpanel.org/internal/httpapi"
	"aidpanel.org/internal/obs"
	"aidpanel.org/internal/ratelimit"
	"aidpanel.org/internal/store/pg"
	"aidpanel.org/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (env: AIDPANEL_ADDR)")
}

func serve(ctx context.Context) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer), auth.WithAudience(cfg.Auth.Audience))
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{}

	var (
		members     auth.MembershipStore
		resolverOpt []auth.ResolverOption
	)
	if cfg.DatabaseDSN != "" {
		store, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()
		members = store
		ready["postgres"] = store
		if cfg.LegacyRoles {
			resolverOpt = append(resolverOpt, auth.WithLegacyRoles(store))
		}
	} else {
		obs.Log("warn", "no database configured, every protected route will deny", nil)
		members = auth.MembershipStoreFunc(func(context.Context, string, string) (auth.Membership, error) {
			return auth.Membership{}, auth.ErrNoMembership
		})
	}

	var counters ratelimit.CounterStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rs := ratelimit.NewRedisStore(rdb)
		counters = rs
		ready["redis"] = rs
	} else {
		mem, err := ratelimit.NewMemoryStore(ratelimit.WithMaxKeys(cfg.RateLimit.MaxKeys))
		if err != nil {
			return err
		}
		mem.StartJanitor(ctx, time.Minute)
		counters = mem
	}

	var engine workflow.Engine
	if cfg.Workflow.URL != "" {
		engine, err = workflow.NewHTTPEngine(cfg.Workflow.URL,
			workflow.WithAPIToken(cfg.Workflow.Token),
			workflow.WithRate(cfg.Workflow.RPS, cfg.Workflow.Burst))
		if err != nil {
			return err
		}
	} else {
		obs.Log("warn", "no workflow engine configured, runs are only recorded in memory", nil)
		engine = workflow.NewLocalEngine()
	}

	api, err := httpapi.New(httpapi.Config{
		Version:            version,
		Resolver:           auth.NewResolver(auth.DefaultRoleTable(), members, resolverOpt...),
		Authenticator:      authn,
		Limiter:            ratelimit.New(counters),
		Profiles:           cfg.Profiles(),
		Engine:             engine,
		Ready:              ready,
		CORSOrigins:        cfg.CORSOrigins,
		SlackSigningSecret: cfg.SlackSigningSecret,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Log("info", "starting aidpanel-api", map[string]any{"version": version, "addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	obs.Log("info", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	obs.Log("info", "stopped", nil)
	return nil
}
