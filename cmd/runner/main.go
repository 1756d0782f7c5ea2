package main

import (
	"context"
	"log"
	"net/http"

	"github.com/pitabwire/frame"
	frameconfig "github.com/pitabwire/frame/config"

	dfconfig "github.com/dialogforge/dialogforge/config"
	"github.com/dialogforge/dialogforge/internal/client"
	"github.com/dialogforge/dialogforge/internal/httputil"
	"github.com/dialogforge/dialogforge/internal/runner"
	"github.com/dialogforge/dialogforge/internal/storage"
	"github.com/dialogforge/dialogforge/pkg/events"
	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/notify"
	notifyapi "github.com/dialogforge/dialogforge/pkg/notify/api"
	"github.com/dialogforge/dialogforge/pkg/render"
)

func main() {
	ctx := context.Background()

	cfg, err := frameconfig.LoadWithOIDC[dfconfig.RunnerConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("dialogforge-runner"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)

	pub := events.NewPublisher(srv.QueueManager(), "runner", eventRef)

	loader := model.NewLoader(cfg.DefinitionsDir)
	defs, err := loader.LoadAll()
	if err != nil {
		log.Printf("warning: loading definitions: %v", err)
	}

	templates := render.NewFileProvider(cfg.TemplatesDir)
	if err := templates.LoadAll(); err != nil {
		log.Printf("warning: loading templates: %v", err)
	}

	if cfg.WatchFiles {
		go func() {
			if err := loader.WatchAndReload(ctx.Done()); err != nil {
				log.Printf("warning: watching definitions: %v", err)
			}
		}()
		go func() {
			if err := templates.WatchAndReload(ctx.Done()); err != nil {
				log.Printf("warning: watching templates: %v", err)
			}
		}()
	}

	trainClient := client.New(client.Config{
		BaseURL:    cfg.TrainingServiceURL,
		APIKey:     cfg.TrainingServiceAPIKey,
		TimeoutSec: cfg.TrainingServiceTimeout,
	})

	dbPool := srv.DatastoreManager().GetPool(ctx, "__default__pool_name__")

	store, err := storage.New(cfg.StorageBackend, cfg.MemoryTTL(), dbPool)
	if err != nil {
		log.Fatalf("selecting storage backend: %v", err)
	}

	registry := runner.NewRegistry(trainClient, store, loader)
	for id := range defs {
		registry.Add(id, runner.Options{
			Templates:       templates,
			SessionTimeout:  cfg.SessionTimeout(),
			MaxActionLoop:   cfg.MaxActionLoop,
			ActionLoopDelay: cfg.ActionLoopDelay(),
			QueueTimeout:    cfg.QueueTimeout(),
			Publisher:       pub,
		})
	}

	notifyRepo := notify.NewRepository(dbPool)
	deliverer := notify.NewDeliverer(notifyRepo, notify.DelivererConfig{
		MaxRetries:        cfg.WebhookMaxRetries,
		TimeoutSec:        cfg.WebhookTimeoutSec,
		BackoffInitialSec: cfg.WebhookBackoffSec,
		BackoffMaxSec:     cfg.WebhookBackoffMax,
		CBFailThreshold:   cfg.CBFailThreshold,
		CBResetTimeoutSec: cfg.CBResetTimeoutSec,
	}, pool)
	subscriber := &notify.Subscriber{
		Repo:      notifyRepo,
		Deliverer: deliverer,
		Pool:      pool,
	}

	apiMux := http.NewServeMux()
	runner.NewHandler(registry, loader, pub).RegisterRoutes(apiMux)
	notifyapi.NewHandler(notifyRepo, pub).RegisterRoutes(apiMux)

	// Health stays unauthenticated; everything under /api/ requires a token.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/api/", httputil.AuthenticatedMiddleware(apiMux, authenticator))

	handler := httputil.LoggingMiddleware(mux)

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".webhooks", eventURL, subscriber),
		frame.WithHTTPHandler(httputil.H2CHandler(handler)),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
