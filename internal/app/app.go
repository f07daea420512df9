// Package app wires configuration into the running service.
package app

import (
	"context"
	"errors"
	"io"

	"evidencia/internal/config"
	"evidencia/internal/domain"
	"evidencia/internal/infra/anchor"
	"evidencia/internal/infra/anchor/evm"
	"evidencia/internal/infra/cache"
	"evidencia/internal/infra/db"
	httpinfra "evidencia/internal/infra/http"
	"evidencia/internal/infra/logging"
	"evidencia/internal/infra/media"
	"evidencia/internal/infra/policyopa"
	"evidencia/internal/infra/qrcode"
	"evidencia/internal/infra/ratelimit"
	"evidencia/internal/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the assembled components and everything that must be closed on
// shutdown.
type App struct {
	Config config.Config
	Logger zerolog.Logger

	Store     *db.Store
	Media     *media.Store
	Anchor    *anchor.Service
	Certifier *usecase.Certifier
	Verifier  *usecase.Verifier
	History   *usecase.History
	Server    *httpinfra.Server

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Build opens the stores, applies pending migrations and assembles the
// certification pipeline. The caller must Close the result.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store, err = db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(a.Store.Close))
	applied, err := a.Store.Migrate(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info().Ints("versions", applied).Str("dialect", a.Store.Dialect).Msg("applied migrations")
	}

	a.Media, err = media.NewStore(cfg.MediaDir)
	if err != nil {
		return nil, err
	}
	admission, err := policyopa.NewEngine(ctx, cfg.AdmissionPolicyPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("policy_hash", admission.PolicyHash()).Msg("admission policy loaded")

	var (
		proofCache  usecase.ProofCache
		rateLimiter domain.RateLimiter = newMemoryLimiter(cfg)
	)
	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client)
		redisCache, err := cache.NewRedis(client, cfg.CacheTTL())
		if err != nil {
			return nil, err
		}
		redisLimiter, err := ratelimit.NewRedisLimiter(client, nil)
		if err != nil {
			return nil, err
		}
		proofCache, rateLimiter = redisCache, redisLimiter
	} else {
		proofCache = cache.NewMemory(cfg.CacheSize, cfg.CacheTTL())
	}

	var ledger anchor.Ledger
	if cfg.LedgerConfigured() {
		client, err := evm.Dial(ctx, evm.Config{
			RPCURL:          cfg.PolygonRPCURL,
			PrivateKeyHex:   cfg.WalletPrivateKey,
			ContractAddress: cfg.ProofContractAddress,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error { client.Close(); return nil }))
		ledger = client
		logger.Info().Str("from", client.From().Hex()).Msg("chain anchoring enabled")
	} else {
		logger.Warn().Msg(anchor.NoteCredentialsMissing)
	}

	attempts := db.NewAnchorAttemptRepository(a.Store.DB)
	a.Anchor = anchor.NewService(ledger, attempts, cfg.AnchorTimeout(), logger)

	proofs := db.NewProofRepository(a.Store.DB)
	codes := qrcode.NewGenerator(0)
	a.Certifier = &usecase.Certifier{
		Proofs:              proofs,
		Media:               a.Media,
		Codes:               codes,
		Anchor:              a.Anchor,
		Admission:           admission,
		Cache:               proofCache,
		PublicBaseURL:       cfg.PublicBaseURL,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		AnchorFailurePolicy: cfg.AnchorFailurePolicy,
		Timeout:             cfg.CertifyTimeout(),
		SniffMimetype:       media.ResolveMimetype,
		Logger:              logging.Component(logger, "certify"),
	}
	a.Verifier = &usecase.Verifier{
		Proofs:        proofs,
		Cache:         proofCache,
		Locator:       media.NewLocator(a.Media),
		Codes:         codes,
		PublicBaseURL: cfg.PublicBaseURL,
		ExplorerURL:   cfg.AnchorExplorerURL,
		Logger:        logging.Component(logger, "verify"),
	}
	a.History = &usecase.History{Proofs: proofs}

	a.Server = httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Certify:          a.Certifier,
		Verify:           a.Verifier,
		History:          a.History,
		MediaDir:         a.Media.Dir(),
		Ready:            a.Store.Ping,
		LedgerConfigured: a.Anchor.Configured(),
		RateLimiter:      rateLimiter,
		Logger:           logger,
	})
	return a, nil
}

func newMemoryLimiter(cfg config.Config) *ratelimit.MemoryLimiter {
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
}

// Run serves HTTP until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
