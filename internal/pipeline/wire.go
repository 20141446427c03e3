package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/cache"
	"github.com/ppiankov/claimgate/internal/check"
	"github.com/ppiankov/claimgate/internal/compliance"
	"github.com/ppiankov/claimgate/internal/delivery"
	"github.com/ppiankov/claimgate/internal/export"
	"github.com/ppiankov/claimgate/internal/lineage"
	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/ports"
	"github.com/ppiankov/claimgate/internal/resilience"
	"github.com/ppiankov/claimgate/internal/similarity"
	"github.com/ppiankov/claimgate/internal/sources"
	"github.com/ppiankov/claimgate/internal/store"
	"github.com/ppiankov/claimgate/internal/store/badgerstore"
	"github.com/ppiankov/claimgate/internal/store/sqlstore"
)

// OpenBackend opens the persistence backend selected by cfg
func OpenBackend(ctx context.Context, cfg model.StorageConfig, logger *zap.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "badger":
		bc := badgerstore.DefaultConfig(cfg.Path)
		bc.SyncWrites = cfg.SyncWrites
		bc.Logger = logger
		s, err := badgerstore.Open(bc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "postgres":
		driver, dsn := sqlstore.DriverSQLite, cfg.Path
		if cfg.Backend == "postgres" {
			driver, dsn = sqlstore.DriverPostgres, cfg.DSN
		}
		s, err := sqlstore.Open(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// Build assembles an engine from configuration. Collaborator calls get the
// configured retry budget and rate limit; manuscripts, manifests and
// variables are cached when caching is enabled.
func Build(ctx context.Context, cfg *model.Config, collab ports.Collaborators, backend store.Backend, m *metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	retrier := resilience.NewRetrierFromConfig(cfg.Retry)
	lookups := cache.New(cfg.Cache)
	collab = ports.Cached(ports.Resilient(collab, retrier), lookups, cfg.Cache.MemoryTTL)

	log := audit.NewLog(backend,
		audit.WithRetrier(resilience.NewRetrier(resilience.PolicyFromConfig(cfg.Retry), nil)),
		audit.WithMetrics(m),
		audit.WithLogger(logger.Named("audit")))

	gate := compliance.NewGate(collab.Approvals, log, cfg.Compliance,
		compliance.WithMetrics(m),
		compliance.WithLogger(logger.Named("gate")))

	scorer, err := similarity.NewScorer(cfg.Similarity, cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("similarity scorer: %w", err)
	}

	var fetcher *sources.Fetcher
	if cfg.Sources.Enabled {
		fetcher = sources.NewFetcher(cfg.Sources, retrier, lookups, logger.Named("sources"))
	}
	resolver := sources.NewExcerptResolver(fetcher, sources.NewAuthorityClassifier(&cfg.Sources.Authority), logger.Named("sources"))

	packets := NewPacketAssembler(
		check.NewInternalChecker(cfg.Verification.TolerancePercent),
		check.NewExternalVerifier(scorer),
		resolver)

	sink, err := delivery.New(ctx, cfg.Delivery)
	if err != nil {
		return nil, fmt.Errorf("delivery sink: %w", err)
	}

	return NewEngine(Deps{
		Collaborators: collab,
		Store:         backend,
		Log:           log,
		Gate:          gate,
		Packets:       packets,
		Tracer:        lineage.NewTracer(collab.Manifests, collab.Variables, cfg.Verification.Workers, logger.Named("lineage")),
		Exporter:      export.NewAssembler(collab.Manuscripts, gate, log, logger.Named("export")),
		Sink:          sink,
		Metrics:       m,
		Logger:        logger,
		Workers:       cfg.Verification.Workers,
	}), nil
}
