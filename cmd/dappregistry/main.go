// Command dappregistry runs the validator bounty registry.
//
//	dappregistry serve                 start the HTTP API
//	dappregistry migrate up|down|version
//	dappregistry hash-key <key>        bcrypt an operator key for DAPPREG_OPERATOR_KEY_HASH
//	dappregistry token <actor> [ttl]   issue a bearer token signed with DAPPREG_JWT_SECRET
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/dapp_registry/internal/config"
	"github.com/R3E-Network/dapp_registry/internal/middleware"
	"github.com/R3E-Network/dapp_registry/internal/platform/migrations"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dappregistry:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dappregistry", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "dotenv file read before the environment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		rest = []string{"serve"}
	}

	cfg, err := config.LoadFrom(*envFile)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Logger()).Named("dappregistry")

	switch rest[0] {
	case "serve":
		return serve(cfg, log)
	case "migrate":
		return migrate(cfg, rest[1:], out)
	case "hash-key":
		if len(rest) != 2 {
			return errors.New("usage: hash-key <key>")
		}
		hash, err := middleware.HashOperatorKey(rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hash)
		return nil
	case "token":
		return issueToken(cfg, rest[1:], out)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.outbox.Start(ctx); err != nil {
		return err
	}
	defer reg.outbox.Stop()
	if reg.limiter != nil {
		reg.limiter.StartCleanup(time.Minute)
		defer reg.limiter.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      reg.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).
			WithField("system_account", cfg.Escrow.SystemAccount).
			WithField("store", cfg.Database.Driver).
			WithField("stake", cfg.Stake.Source).
			Info("registry listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	return nil
}

func migrate(cfg *config.Config, args []string, out io.Writer) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return errors.New("migrate requires DAPPREG_DB_DRIVER=postgres")
	}
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	switch direction {
	case "up":
		return migrations.Apply(cfg.Database.DSN)
	case "down":
		return migrations.Rollback(cfg.Database.DSN)
	case "version":
		version, dirty, err := migrations.Version(cfg.Database.DSN)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version %d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
}

func issueToken(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: token <actor> [ttl]")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("DAPPREG_JWT_SECRET is not set")
	}
	ttl := 24 * time.Hour
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parse ttl: %w", err)
		}
		ttl = d
	}
	token, err := middleware.IssueToken(cfg.Auth.JWTSecret, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
