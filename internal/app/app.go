// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	archivegcs "github.com/civiclens/civiclens/internal/archive/gcs"
	archivelocal "github.com/civiclens/civiclens/internal/archive/local"
	"github.com/civiclens/civiclens/internal/clock/system"
	"github.com/civiclens/civiclens/internal/config"
	"github.com/civiclens/civiclens/internal/enrich"
	"github.com/civiclens/civiclens/internal/entity"
	"github.com/civiclens/civiclens/internal/id/uuid"
	"github.com/civiclens/civiclens/internal/logging"
	"github.com/civiclens/civiclens/internal/metrics"
	notifymemory "github.com/civiclens/civiclens/internal/notify/memory"
	notifypubsub "github.com/civiclens/civiclens/internal/notify/pubsub"
	"github.com/civiclens/civiclens/internal/policy"
	"github.com/civiclens/civiclens/internal/registry"
	"github.com/civiclens/civiclens/internal/router"
	"github.com/civiclens/civiclens/internal/sources/congress"
	"github.com/civiclens/civiclens/internal/sources/evaluate"
	"github.com/civiclens/civiclens/internal/sources/render"
	"github.com/civiclens/civiclens/internal/sources/social"
	"github.com/civiclens/civiclens/internal/sources/twitter"
	"github.com/civiclens/civiclens/internal/sources/votes"
	storememory "github.com/civiclens/civiclens/internal/store/memory"
	storepostgres "github.com/civiclens/civiclens/internal/store/postgres"
)

// App holds the shared, long-lived services. It is initialized once at
// startup and handed to the commands that need it.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    entity.Store
	registry *registry.Registry
	queue    *enrich.Queue
	engine   *policy.Engine
	router   *router.Router

	notifier *notifypubsub.Publisher
	renderer *render.Renderer
}

// New builds the full service graph from configuration. It fails fast when
// a critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	clock := system.New()
	ids := uuid.New()

	a := &App{cfg: cfg, logger: logger}

	if err := a.buildStore(ctx, clock, ids); err != nil {
		return nil, err
	}
	if err := a.buildRegistry(); err != nil {
		a.store.Close()
		return nil, err
	}
	archiver, err := a.buildArchiver(ctx)
	if err != nil {
		a.store.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	refresh := votes.New(votes.Config{
		Command: strings.Fields(cfg.Sources.Votes.RefreshCommand),
		Timeout: cfg.Sources.Votes.RefreshTimeout,
	}, logger)

	a.queue = enrich.New(a.store, a.registry, clock,
		cfg.Background.PollInterval, cfg.Background.EntityDelay, logger)

	a.engine = policy.New(a.store, a.registry, a.queue, refresh, archiver, publisher, clock,
		policy.Config{
			BackgroundOnly: cfg.BackgroundOnlySet(),
			FieldTTLs:      cfg.Fetch.FieldTTLs,
			NotifyTopic:    cfg.Notify.Topic,
			ArchivePrefix:  cfg.Archive.Prefix,
		}, logger)

	a.router = router.New(a.engine, a.store, evaluate.New(), clock, logger)

	logger.Info("application services initialized",
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("archive_provider", cfg.Archive.Provider),
		zap.String("notify_provider", cfg.Notify.Provider))
	return a, nil
}

func (a *App) buildStore(ctx context.Context, clock entity.Clock, ids entity.IDGenerator) error {
	switch a.cfg.DB.Provider {
	case "postgres":
		store, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		}, clock, ids, a.logger)
		if err != nil {
			return fmt.Errorf("initialize postgres store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.store = store
	case "memory":
		a.logger.Info("using in-memory entity store; data will not survive restart")
		a.store = storememory.New(clock, ids)
	default:
		return fmt.Errorf("unknown db.provider: %s", a.cfg.DB.Provider)
	}
	return nil
}

// buildRegistry wires every production source by explicit registration.
// Missing credentials surface as fetch errors, not import-time fallbacks.
func (a *App) buildRegistry() error {
	reg := registry.New()

	tw := twitter.New(twitter.Config{
		BaseURL:     a.cfg.Sources.Twitter.BaseURL,
		BearerToken: a.cfg.Sources.Twitter.BearerToken,
		Timeout:     a.cfg.Sources.Twitter.Timeout,
	}, a.logger)
	reg.Register(entity.TypePolitician, entity.FieldLatestTweet, tw.LatestTweetSource())
	reg.Register(entity.TypeInfluencer, entity.FieldLatestTweet, tw.LatestTweetSource())

	cg := congress.New(congress.Config{
		BaseURL:   a.cfg.Sources.Congress.BaseURL,
		UserAgent: a.cfg.Sources.Congress.UserAgent,
		Timeout:   a.cfg.Sources.Congress.Timeout,
	}, a.logger)
	reg.Register(entity.TypePolitician, entity.FieldBio, cg.BioSource())
	reg.Register(entity.TypePolitician, entity.FieldCommittees, cg.CommitteesSource())
	reg.Register(entity.TypePolitician, entity.FieldVotingRecord, cg.VotingRecordSource())

	if a.cfg.Sources.Renderer.Enabled {
		if a.cfg.Sources.Renderer.ProfileURLTpl == "" {
			return fmt.Errorf("sources.renderer.profile_url_template must be set when the renderer is enabled")
		}
		renderer, err := render.New(render.Config{
			MaxParallel:       a.cfg.Sources.Renderer.MaxParallel,
			UserAgent:         a.cfg.Sources.Renderer.UserAgent,
			NavigationTimeout: a.cfg.Sources.Renderer.NavTimeout,
		})
		if err != nil {
			return fmt.Errorf("initialize renderer: %w", err)
		}
		a.renderer = renderer
		metricsSource := social.New(social.Config{
			ProfileURLTemplate: a.cfg.Sources.Renderer.ProfileURLTpl,
		}, renderer, a.logger)
		reg.Register(entity.TypeInfluencer, entity.FieldAudienceSize, metricsSource.AudienceSizeSource())
		reg.Register(entity.TypeInfluencer, entity.FieldInfluenceScore, metricsSource.InfluenceScoreSource())
	}

	a.registry = reg
	return nil
}

func (a *App) buildArchiver(ctx context.Context) (entity.Archiver, error) {
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs client: %w", err)
		}
		archiver, err := archivegcs.New(client, archivegcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("initialize gcs archiver: %w", err)
		}
		return archiver, nil
	case "local":
		archiver, err := archivelocal.New(archivelocal.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("initialize local archiver: %w", err)
		}
		return archiver, nil
	case "noop", "":
		a.logger.Info("raw payload archiving disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive.provider: %s", a.cfg.Archive.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (entity.Publisher, error) {
	switch a.cfg.Notify.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub client: %w", err)
		}
		publisher, err := notifypubsub.New(client)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		a.notifier = publisher
		return publisher, nil
	case "memory":
		return notifymemory.New(), nil
	case "noop", "":
		a.logger.Info("entity update notifications disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown notify.provider: %s", a.cfg.Notify.Provider)
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the entity store.
func (a *App) Store() entity.Store {
	return a.store
}

// Queue returns the background enrichment queue.
func (a *App) Queue() *enrich.Queue {
	return a.queue
}

// Router returns the request router.
func (a *App) Router() *router.Router {
	return a.router
}

// Close tears down services in dependency order. The queue must already be
// stopped by the owning command.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("close pubsub publisher", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr sync fails on some platforms.
		_ = err
	}
}
