// Package app wires configuration, logging, cloud clients and the pipeline
// services into one container that commands pull their dependencies from.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/checkpoint"
	"github.com/dame-data/epc-ingest/internal/config"
	"github.com/dame-data/epc-ingest/internal/epcapi"
	"github.com/dame-data/epc-ingest/internal/logging"
	"github.com/dame-data/epc-ingest/internal/metrics"
	"github.com/dame-data/epc-ingest/internal/notify"
	"github.com/dame-data/epc-ingest/internal/ops"
	"github.com/dame-data/epc-ingest/internal/orchestrator"
	"github.com/dame-data/epc-ingest/internal/sink"
	"github.com/dame-data/epc-ingest/internal/storage/gcs"
	"github.com/dame-data/epc-ingest/internal/warehouse"
)

// App holds the fully wired pipeline services for one process.
type App struct {
	Config      config.Config
	Log         *zap.Logger
	Checkpoints *checkpoint.Store
	API         *epcapi.Client
	Loader      *warehouse.Loader
	Sink        *sink.Sink

	// Publisher and Ops are nil unless enabled in config.
	Publisher *notify.Publisher
	Ops       *ops.Server

	GCS      *gstorage.Client
	bqClient *bigquery.Client
	psClient *pubsub.Client
}

// New loads configuration and connects every service the commands need.
func New(ctx context.Context, cfgPath, envFile string) (*App, error) {
	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	gcsClient, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	objects, err := gcs.New(ctx, gcsClient, cfg.Bucket)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	loader := warehouse.NewLoader(bqClient, cfg.DatasetRaw, cfg.Region, log)

	a := &App{
		Config:      cfg,
		Log:         log,
		Checkpoints: checkpoint.New(objects, log),
		API: epcapi.New(epcapi.Config{
			BaseURL:      cfg.API.BaseURL,
			Email:        cfg.API.Email,
			APIKey:       cfg.API.Key,
			PageSize:     cfg.API.PageSize,
			Timeout:      cfg.APITimeout(),
			RetryMax:     cfg.API.RetryMax,
			RetryBackoff: cfg.RetryBackoff(),
		}, log),
		Loader:   loader,
		Sink:     sink.New(objects, loader),
		GCS:      gcsClient,
		bqClient: bqClient,
	}

	if cfg.PubSub.Topic != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.psClient = psClient
		a.Publisher, err = notify.NewPublisher(ctx, psClient, cfg.PubSub.Topic, log)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Addr != "" {
		a.Ops = ops.NewServer(cfg.Metrics.Addr, log)
		a.Ops.Start()
	}

	log.Info("application wired",
		zap.String("project", cfg.ProjectID),
		zap.String("bucket", cfg.Bucket),
		zap.String("dataset", cfg.DatasetRaw),
		zap.Bool("pubsub", a.Publisher != nil),
		zap.Bool("ops_server", a.Ops != nil),
	)
	return a, nil
}

// Orchestrator builds the run driver on top of the wired services.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	// A nil *Publisher must stay a nil interface.
	var notifier orchestrator.Notifier
	if a.Publisher != nil {
		notifier = a.Publisher
	}
	return orchestrator.New(a.API, a.Sink, a.Checkpoints, a.Loader, notifier, a.Log)
}

// Close releases clients and drains the ops server.
func (a *App) Close() {
	if a.Ops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Ops.Shutdown(ctx); err != nil {
			a.Log.Warn("ops server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.psClient != nil {
		_ = a.psClient.Close()
	}
	if a.bqClient != nil {
		_ = a.bqClient.Close()
	}
	if a.GCS != nil {
		_ = a.GCS.Close()
	}
	_ = a.Log.Sync()
}
