package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/clients/bluesky"
	"crosspost/infrastructure/clients/facebook"
	"crosspost/infrastructure/clients/instagram"
	"crosspost/infrastructure/clients/linkedin"
	"crosspost/infrastructure/clients/mastodon"
	"crosspost/infrastructure/clients/tiktok"
	"crosspost/infrastructure/clients/xapi"
	youtubeclient "crosspost/infrastructure/clients/youtube"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/persistence"
	"crosspost/infrastructure/pipeline"
	"crosspost/infrastructure/pubsub"
	"crosspost/infrastructure/realtime"
	"crosspost/infrastructure/servicebus"
	"crosspost/infrastructure/storage"
	httpHandler "crosspost/interfaces/http"
	"crosspost/server"
	"crosspost/usecase"

	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

const renewalInterval = 30 * time.Minute

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// Load env from files (non-destructive; OS env still has precedence)
	configuration.LoadEnvFromFile("config.env", ".env")

	app := configuration.C.App
	userID := os.Getenv("OPERATOR_ID")
	if userID == "" {
		userID = "operator"
	}

	db, store, err := InitiateDatabase()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Database initialization failed")
		os.Exit(1)
	}
	defer db.Close()

	mongoClient, err := persistence.NewMongoClient(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without publish history")
		mongoClient = nil
	}
	var history repository.IPublishHistory
	if mongoClient != nil {
		history = persistence.NewPublishHistoryRepository(mongoClient)
		logger.GetLogger().Info("MongoDB connected successfully")
	}

	redisClient := cache.NewRedisClient(ctx)
	snapshots := cache.NewSnapshotCache(redisClient)

	pubsubNotifier := pubsub.NewOutcomeNotifier(pubsub.NewPubSubClient(ctx), configuration.C.Pubsub.Topic)
	serviceBusNotifier := servicebus.NewOutcomeNotifier(servicebus.NewServiceBusClient(), configuration.C.ServiceBus.Queue)

	policies, adapters := buildDestinations()
	tokens := usecase.NewTokenLifecycleManager(store, userID, policies...)
	seedFromConfig(tokens)
	if err := tokens.Load(ctx); err != nil {
		logger.GetLogger().WithField("error", err).Error("Loading destinations failed")
	}
	tokens.RenewDueAuthorizations(ctx)

	fanout := usecase.NewStorageFanout(
		storage.NewObjectStorage(nil, configuration.C.Storage.Object),
		storage.NewIPFSStorage(nil, configuration.C.Storage.IPFS),
	)
	pipelineClient := pipeline.NewClient(nil, configuration.C.Pipeline.Host)

	orchestrator := usecase.NewPostOrchestrator(tokens, fanout, pipelineClient, adapters...).
		WithHistory(history).
		WithNotifiers(pubsubNotifier, serviceBusNotifier)

	progressHub := realtime.NewProgressHub()
	for _, engine := range orchestrator.Engines() {
		engine.OnChange(func(snap model.JobSnapshot) {
			progressHub.Broadcast(userID, snap)
			snapshots.StoreSnapshot(context.Background(), userID, snap)
		})
	}

	destinationHandler := httpHandler.NewDestinationHandler(tokens, orchestrator, snapshots)
	postHandler := httpHandler.NewPostHandler(orchestrator, history, snapshots)
	router := server.InitiateRouter(destinationHandler, postHandler, progressHub)

	// Background token renewal loop
	g.Go(func() error {
		ticker := time.NewTicker(renewalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				renewCtx, cancelRenew := context.WithTimeout(ctx, 2*time.Minute)
				tokens.RenewDueAuthorizations(renewCtx)
				cancelRenew()
			}
		}
	})

	port := app.Port
	logger.GetLogger().WithFields(map[string]interface{}{"port": port, "tls": app.TLSEnabled}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}
		if app.TLSEnabled {
			cert := app.TLSCertFile
			key := app.TLSKeyFile
			if cert == "" || key == "" {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			} else {
				logger.GetLogger().WithFields(map[string]interface{}{"cert": cert, "key": key}).Info("Serving HTTPS")
				if err := httpServer.ListenAndServeTLS(cert, key); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
		} else {
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if mongoClient != nil {
		_ = mongoClient.Disconnect(shutdownCtx)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

// InitiateDatabase returns the raw handle plus the vendor-matched destination
// store. MSSQL in production (or with DB_VENDOR=mssql), PostgreSQL otherwise.
func InitiateDatabase() (*sql.DB, repository.IDestinationStore, error) {
	env := os.Getenv("ENV")
	useMssql := os.Getenv("DB_VENDOR") == "mssql" || env == "production" || env == "prod"
	if useMssql {
		db, err := persistence.NewMSSQLDB()
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Cannot connect to MSSQL")
			return nil, nil, err
		}
		if err := persistence.EnsureDestinationSchemaMSSQL(db); err != nil {
			logger.GetLogger().WithField("error", err).Error("failed ensuring destination schema (mssql)")
		}
		return db, persistence.NewDestinationRepositoryMSSQL(db), nil
	}

	db, err := persistence.NewPsqlDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Cannot connect to PostgreSQL")
		return nil, nil, err
	}
	if err := persistence.EnsureDestinationSchema(db); err != nil {
		logger.GetLogger().WithField("error", err).Error("failed ensuring destination schema")
	}
	return db, persistence.NewDestinationRepository(db), nil
}

// buildDestinations wires one policy and one adapter per configured provider,
// in the orchestrator's dispatch order.
func buildDestinations() ([]repository.IProviderPolicy, []repository.IPublishAdapter) {
	providers := configuration.C.Providers

	var policies []repository.IProviderPolicy
	var adapters []repository.IPublishAdapter
	add := func(policy repository.IProviderPolicy, adapter repository.IPublishAdapter) {
		policies = append(policies, policy)
		adapters = append(adapters, adapter)
	}

	if cfg, ok := providers["youtube"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(youtubeclient.NewPolicy().WithBuffers(access, refresh), youtubeclient.NewAdapter(nil))
	}
	if cfg, ok := providers["x"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(xapi.NewPolicy(nil).WithBuffers(access, refresh), xapi.NewAdapter(nil))
	}
	if cfg, ok := providers["instagram"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(instagram.NewPolicy(nil).WithBuffers(access, refresh), instagram.NewAdapter(nil))
	}
	if cfg, ok := providers["tiktok"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(tiktok.NewPolicy(nil).WithBuffers(access, refresh), tiktok.NewAdapter(nil))
	}
	if cfg, ok := providers["facebook"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(facebook.NewPolicy(nil).WithBuffers(access, refresh), facebook.NewAdapter(nil))
	}
	if cfg, ok := providers["mastodon"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(mastodon.NewPolicy(nil, cfg.InstanceURL).WithBuffers(access, refresh), mastodon.NewAdapter(nil, cfg.InstanceURL))
	}
	if cfg, ok := providers["linkedin"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(linkedin.NewPolicy(nil).WithBuffers(access, refresh), linkedin.NewAdapter(nil))
	}
	if cfg, ok := providers["bluesky"]; ok && cfg.Enabled {
		access, refresh := bufferOverrides(cfg)
		add(bluesky.NewPolicy(nil).WithBuffers(access, refresh), bluesky.NewAdapter(nil))
	}

	return policies, adapters
}

// bufferOverrides converts the config's buffer fields; zero means keep the
// policy default.
func bufferOverrides(cfg configuration.Provider) (access, refresh time.Duration) {
	return time.Duration(cfg.AccessBufferMinutes) * time.Minute,
		time.Duration(cfg.RefreshBufferHours) * time.Hour
}

// seedFromConfig installs client credentials and callback URIs for providers
// that have nothing persisted yet.
func seedFromConfig(tokens *usecase.TokenLifecycleManager) {
	for platform, cfg := range configuration.C.Providers {
		tokens.SeedCredentials(platform, model.Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		}, cfg.Enabled)
		if cfg.RedirectURI != "" {
			tokens.SetRedirectURI(platform, cfg.RedirectURI)
		}
	}
}
