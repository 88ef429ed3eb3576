package walletd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/walletledger/internal/database"
	"github.com/MarkoPoloResearchLab/walletledger/internal/events"
	"github.com/MarkoPoloResearchLab/walletledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/walletledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/walletledger/internal/logging"
	"github.com/MarkoPoloResearchLab/walletledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/walletledger/internal/reconcile"
	"github.com/MarkoPoloResearchLab/walletledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/walletledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BackendStore is the persistence surface the wallet needs.
type BackendStore interface {
	ledger.Store
	ledger.CatalogStore
}

// Backend is an opened store plus its cleanup.
type Backend struct {
	Store BackendStore
	close func() error
}

// Close releases the database resources.
func (backend *Backend) Close() error {
	if backend == nil || backend.close == nil {
		return nil
	}
	return backend.close()
}

// OpenBackend opens the configured store. SQLite schemas are always migrated;
// PostgreSQL schemas only when migrate is set.
func OpenBackend(ctx context.Context, cfg Config, migrate bool) (*Backend, error) {
	switch cfg.StoreDriver {
	case StoreDriverPGX:
		store, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		if migrate {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return &Backend{Store: store, close: func() error { store.Close(); return nil }}, nil
	default:
		connection, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		if err := connection.PrepareSchema(ctx, migrate); err != nil {
			_ = connection.Close()
			return nil, err
		}
		return &Backend{Store: gormstore.New(connection.DB), close: connection.Close}, nil
	}
}

// ServiceOptions carries the cross-cutting hooks handed to every component.
type ServiceOptions struct {
	Clock          func() int64
	Prices         ledger.ActionPriceTable
	OperationLog   ledger.OperationLogger
	TransactionLog ledger.TransactionListener
}

// BuildServices wires the ledger components on top of store.
func BuildServices(store BackendStore, options ServiceOptions) (httpapi.Services, error) {
	clock := options.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UTC().Unix() }
	}
	componentOptions := []ledger.Option{ledger.WithOperationLogger(options.OperationLog)}

	walletLedger, err := ledger.NewLedger(store, clock, append(componentOptions, ledger.WithTransactionListener(options.TransactionLog))...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("ledger init: %w", err)
	}
	catalog, err := ledger.NewCatalog(store, clock, componentOptions...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("catalog init: %w", err)
	}
	spends, err := ledger.NewSpendAuthorizer(walletLedger, options.Prices, componentOptions...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("spend authorizer init: %w", err)
	}
	purchases, err := ledger.NewPurchaseProcessor(walletLedger, catalog, componentOptions...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("purchase processor init: %w", err)
	}
	queries, err := ledger.NewQueryService(walletLedger, componentOptions...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("query service init: %w", err)
	}
	return httpapi.Services{Ledger: walletLedger, Spends: spends, Purchases: purchases, Queries: queries, Catalog: catalog}, nil
}

// Run serves HTTP and gRPC and runs scheduled reconciliation until ctx is done.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prices, err := cfg.PriceTable()
	if err != nil {
		return err
	}

	backend, err := OpenBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	var listener ledger.TransactionListener = events.NopListener{}
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		listener = publisher
	} else {
		logger.Info("no amqp url configured; transaction events are discarded")
	}

	recorder := metrics.NewRecorder()
	services, err := BuildServices(backend.Store, ServiceOptions{
		Prices:         prices,
		OperationLog:   ledger.JoinOperationLoggers(logging.NewOperationLogger(logger), recorder),
		TransactionLog: listener,
	})
	if err != nil {
		return err
	}

	validator, err := httpapi.NewSessionValidator(cfg.HTTP)
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(cfg.HTTP, services, validator, logger, recorder.Handler())
	if err != nil {
		return err
	}
	walletService, err := grpcserver.NewWalletServiceServer(services.Purchases, services.Spends, services.Queries)
	if err != nil {
		return err
	}
	grpcServer, _ := grpcserver.NewServer(walletService)

	job, err := reconcile.NewJob(services.Ledger, recorder, logger)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if err := job.Start(groupCtx, cfg.ReconcileSchedule); err != nil {
		return err
	}
	defer job.Stop()
	group.Go(func() error {
		return httpapi.Serve(groupCtx, cfg.HTTP, router, logger)
	})
	group.Go(func() error {
		return grpcserver.Serve(groupCtx, cfg.GRPCListenAddr, grpcServer, logger)
	})
	return group.Wait()
}

// Migrate creates or updates the schema of the configured database.
func Migrate(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, err := OpenBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	logger.Info("schema migrated", zap.String("store_driver", cfg.StoreDriver))
	return nil
}

// ReconcileOnce checks every account and fails when any balance diverged.
func ReconcileOnce(ctx context.Context, cfg Config, logger *zap.Logger) (reconcile.Report, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return reconcile.Report{}, err
	}
	backend, err := OpenBackend(ctx, cfg, false)
	if err != nil {
		return reconcile.Report{}, err
	}
	defer func() { _ = backend.Close() }()

	services, err := BuildServices(backend.Store, ServiceOptions{
		Prices:       ledger.DefaultActionPrices(),
		OperationLog: logging.NewOperationLogger(logger),
	})
	if err != nil {
		return reconcile.Report{}, err
	}
	job, err := reconcile.NewJob(services.Ledger, nil, logger)
	if err != nil {
		return reconcile.Report{}, err
	}
	report, err := job.RunOnce(ctx)
	if err != nil {
		return report, err
	}
	if !report.Consistent() {
		return report, fmt.Errorf("%w: %d of %d accounts", ledger.ErrBalanceDiverged, len(report.DivergedAccounts), report.Accounts)
	}
	return report, nil
}
