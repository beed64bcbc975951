package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/R3E-Network/dapp_registry/internal/app/httpapi"
	catalogsvc "github.com/R3E-Network/dapp_registry/internal/app/services/catalog"
	creditsvc "github.com/R3E-Network/dapp_registry/internal/app/services/credit"
	requestsvc "github.com/R3E-Network/dapp_registry/internal/app/services/requests"
	validationsvc "github.com/R3E-Network/dapp_registry/internal/app/services/validations"
	validatorsvc "github.com/R3E-Network/dapp_registry/internal/app/services/validators"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/memory"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/postgres"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/config"
	"github.com/R3E-Network/dapp_registry/internal/effects"
	"github.com/R3E-Network/dapp_registry/internal/engine"
	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/internal/middleware"
	"github.com/R3E-Network/dapp_registry/internal/platform/migrations"
	"github.com/R3E-Network/dapp_registry/internal/stake"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// registry is a fully wired process: storage, engine, outbox and router.
type registry struct {
	engine  *engine.Engine
	outbox  *effects.Outbox
	limiter *middleware.RateLimiter
	events  *events.RingBuffer
	handler http.Handler

	closers []func() error
}

// Close releases every backend in reverse order of acquisition.
func (r *registry) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*registry, error) {
	reg := &registry{}
	ok := false
	defer func() {
		if !ok {
			_ = reg.Close()
		}
	}()

	store, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if c, isCloser := store.(interface{ Close() error }); isCloser {
		reg.closers = append(reg.closers, c.Close)
	}

	directory, err := openDirectory(cfg)
	if err != nil {
		return nil, err
	}
	if c, isCloser := directory.(interface{ Close() error }); isCloser {
		reg.closers = append(reg.closers, c.Close)
	}

	accounts, err := openAccounts(cfg.Accounts)
	if err != nil {
		return nil, err
	}

	clock := chain.SystemClock{}
	reg.events = events.NewRingBuffer(cfg.Server.EventBuffer)

	creditSvc := creditsvc.New(cfg.Escrow.Symbol, clock, log.Named("credit"))
	validatorSvc := validatorsvc.New(directory, clock, log.Named("validators")).WithMaxApprovers(cfg.Escrow.MaxApprovers)
	catalogSvc := catalogsvc.New(accounts, clock, log.Named("catalog"))
	requestSvc := requestsvc.New(creditSvc, validatorSvc, clock, log.Named("requests"))
	validationSvc := validationsvc.New(catalogSvc, requestSvc, validatorSvc, clock, log.Named("validations"))

	reg.outbox = effects.NewOutbox(store, transferService(cfg.Transfer, log), clock, log.Named("outbox"), reg.events, effects.OutboxConfig{
		MaxAttempts:   cfg.Outbox.MaxAttempts,
		RetrySchedule: cfg.Outbox.RetrySchedule,
		Timeout:       cfg.Outbox.Timeout,
	})

	reg.engine = engine.New(store, engine.Services{
		Credit:      creditSvc,
		Validators:  validatorSvc,
		Requests:    requestSvc,
		Validations: validationSvc,
		Catalog:     catalogSvc,
	}, engine.Options{
		SystemAccount: cfg.Escrow.SystemAccount,
		Clock:         clock,
		Effects:       reg.outbox,
		Events:        reg.events,
		Log:           log.Named("engine"),
	})

	sink, err := httpapi.NewFileAuditSink(cfg.Server.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	var auditSink httpapi.AuditSink
	if sink != nil {
		auditSink = sink
		reg.closers = append(reg.closers, sink.Close)
	}

	if cfg.Server.RateLimit > 0 {
		reg.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log.Named("ratelimit"))
	}
	var cors *middleware.CORSMiddleware
	if len(cfg.Server.CORSOrigins) > 0 {
		cors = middleware.NewCORSMiddleware(cfg.Server.CORSOrigins)
	}

	reg.handler = httpapi.NewHandler(httpapi.Deps{
		Engine: reg.engine,
		Events: reg.events,
		Auth: middleware.NewAuthMiddleware(middleware.AuthConfig{
			JWTSecret:       cfg.Auth.JWTSecret,
			OperatorKeyHash: cfg.Auth.OperatorKeyHash,
			SkipPaths:       []string{"/healthz", "/metrics"},
		}, log.Named("auth")),
		Limiter:   reg.limiter,
		CORS:      cors,
		Precision: cfg.Escrow.Precision,
		Audit:     httpapi.NewAuditLog(0, auditSink),
		Log:       log.Named("httpapi"),
	})

	ok = true
	return reg, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (storage.Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
	if cfg.AutoMigrate {
		if err := migrations.Apply(cfg.DSN); err != nil {
			return nil, err
		}
	}
	store, err := postgres.Open(ctx, cfg.DSN, postgres.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func openDirectory(cfg *config.Config) (stake.Directory, error) {
	switch cfg.Stake.Source {
	case config.StakeRedis:
		return stake.NewRedis(stake.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			WeightsKey: cfg.Redis.WeightsKey,
			TotalKey:   cfg.Redis.TotalKey,
		}), nil
	case config.StakeHTTP:
		return stake.NewHTTP(stake.HTTPOptions{
			URL:         cfg.Stake.URL,
			WeightsPath: cfg.Stake.WeightsPath,
			TotalPath:   cfg.Stake.TotalPath,
			TTL:         cfg.Stake.TTL,
		}), nil
	default:
		dir, err := stake.LoadStaticFile(cfg.Stake.File)
		if err != nil {
			return nil, fmt.Errorf("load stake file: %w", err)
		}
		return dir, nil
	}
}

func openAccounts(cfg config.AccountsConfig) (chain.AccountOracle, error) {
	switch cfg.Mode {
	case config.AccountsStatic:
		return chain.NewStaticAccounts(cfg.Static...), nil
	case config.AccountsNeo:
		return chain.NeoAddresses{}, nil
	case config.AccountsRPC:
		client, err := chain.NewRPCClient(chain.RPCConfig{RPCURL: cfg.RPCURL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return chain.Permissive{}, nil
	}
}

func transferService(cfg config.TransferConfig, log *logger.Logger) effects.TransferService {
	if cfg.Mode != config.TransferHTTP {
		return effects.NewLogService(log.Named("transfers"))
	}
	return effects.NewHTTPService(effects.HTTPServiceConfig{
		BaseURL:    cfg.URL,
		Path:       cfg.Path,
		ServiceID:  cfg.ServiceID,
		Secret:     []byte(cfg.Secret),
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
}
