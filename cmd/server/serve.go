package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-po-approvals/internal/client"
	"github.com/pesio-ai/be-po-approvals/internal/config"
	"github.com/pesio-ai/be-po-approvals/internal/handler"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
	"github.com/pesio-ai/be-po-approvals/internal/repository/memstore"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireAuth(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply migrations before serving (postgres backend)")
}

// backend is the opened store together with its readiness probe.
type backend struct {
	store  repository.Store
	health func(ctx context.Context) error
	close  func()
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Orders.StoreBackend).
		Str("eligibility", cfg.Clients.EligibilityMode).
		Msg("Starting purchase order approval service")

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	// Eligibility
	var eligibility service.EligibilityResolver
	directory := client.NewDirectoryResolver(be.store)
	switch cfg.Clients.EligibilityMode {
	case "grpc":
		remote, err := client.NewEligibilityGRPCClient(cfg.Clients.EligibilityGRPCAddr)
		if err != nil {
			return err
		}
		defer remote.Close()
		eligibility = remote
		log.Info().Str("addr", cfg.Clients.EligibilityGRPCAddr).Msg("Using remote approval authorization")
	default:
		eligibility = directory
	}

	// Evidence store
	var evidence service.EvidenceStore
	if cfg.Clients.EvidenceStoreURL != "" {
		evidence = client.NewEvidenceClient(cfg.Clients.EvidenceStoreURL, cfg.Clients.EvidenceTimeout)
	} else {
		log.Warn().Msg("EVIDENCE_STORE_URL not set, evidence uploads will be reported as warnings")
	}

	// Workflow events
	var events service.EventPublisher
	if cfg.Clients.NATSURL != "" {
		conn, err := client.ConnectNATS(cfg.Clients.NATSURL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, workflow events disabled")
		} else {
			defer func() { _ = conn.Drain() }()
			events = client.NewEventPublisher(conn, cfg.Clients.NATSSubjectPrefix, log.Component("events").Logger)
		}
	}

	// Services
	builder := service.NewChainBuilder(log.Component("chain"))
	orders := service.NewOrderService(be.store, builder, evidence, events, service.OrderDefaults{
		Currency: cfg.Orders.DefaultCurrency,
		TaxRate:  cfg.Orders.DefaultTaxRate,
	}, log.Component("orders"))
	engine := service.NewApprovalEngine(be.store, eligibility, events, log.Component("engine"))
	resubmit := service.NewResubmissionCoordinator(be.store, builder, evidence, events, log.Component("resubmit"))

	// HTTP
	httpHandler := handler.NewHTTPHandler(orders, engine, resubmit, log)
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpHandler.Router(handler.RouterConfig{
			JWTSecret:      []byte(cfg.Auth.JWTSecret),
			CORSOrigins:    cfg.Server.CORSOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			Health:         be.health,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	handler.NewGRPCHandler(directory, log.Logger).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err = <-errCh:
		log.Error().Err(err).Msg("Server failed, shutting down")
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return err
}

// openBackend connects the configured store. The memory backend is seeded
// from the department catalog and loses everything on exit.
func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	if cfg.Orders.StoreBackend == "memory" {
		catalog, err := repository.LoadCatalog(cfg.Orders.CatalogPath)
		if err != nil {
			return nil, err
		}
		store := memstore.New()
		if err := catalog.Seed(ctx, store); err != nil {
			return nil, err
		}
		log.Warn().Str("catalog", cfg.Orders.CatalogPath).Msg("Using in-memory store")
		return &backend{store: store, close: func() {}}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	if migrateOnStart {
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info().Strs("migrations", applied).Msg("Migrations applied")
	}

	return &backend{
		store:  repository.NewPostgresStore(db),
		health: db.Ping,
		close:  db.Close,
	}, nil
}
