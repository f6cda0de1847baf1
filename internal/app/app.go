// Package app assembles the store, models, services and adapters from
// configuration. Both the API server and the cycle CLI start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/compliance"
	"github.com/stwalsh4118/parcelheat/internal/config"
	"github.com/stwalsh4118/parcelheat/internal/database"
	"github.com/stwalsh4118/parcelheat/internal/handlers"
	"github.com/stwalsh4118/parcelheat/internal/identity"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/prediction"
	"github.com/stwalsh4118/parcelheat/internal/promotion"
	"github.com/stwalsh4118/parcelheat/internal/repository"
	"github.com/stwalsh4118/parcelheat/internal/scoring"
	"github.com/stwalsh4118/parcelheat/internal/services"
	"github.com/stwalsh4118/parcelheat/internal/sources"
)

// ErrInvalidConfig marks Build failures caused by configuration values
// rather than by an unreachable store. Retrying does not help.
var ErrInvalidConfig = errors.New("invalid configuration")

// App holds the wired pipeline.
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Store      *repository.Store
	Clock      clock.Clock
	Counties   *identity.CountyNormalizer
	Scoring    services.ScoringService
	Prediction services.PredictionService
	Cycles     services.CycleService
	Gate       compliance.Gate
	db         *database.Database
}

// Build opens the configured store and wires every service over it.
// With the postgres driver it waits for the database and applies the schema.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	scoringModel, err := ScoringModel(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	predictionModel, err := PredictionModel(cfg.Prediction)
	if err != nil {
		return nil, err
	}
	thresholds := promotion.Thresholds{
		Narrow:  cfg.Promotion.NarrowThreshold,
		Broad:   cfg.Promotion.BroadThreshold,
		Partner: cfg.Promotion.PartnerThreshold,
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: promotion thresholds: %v", ErrInvalidConfig, err)
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		Clock:    clock.New(),
		Counties: identity.NewCountyNormalizer(cfg.Counties.Known, cfg.Counties.Default),
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	rec := audit.NewRecorder(a.Store.Audit, a.Clock)
	conversions := services.NewConversionTable(cfg.Scoring.ConversionRates, scoringModel.BaselineConversion)

	promoter := services.NewPromotionService(a.Store.Predictions, a.Store.Leads, thresholds, cfg.Promotion.DeterministicWeight, rec, log)
	a.Scoring = services.NewScoringService(a.Store, scoringModel, conversions, rec, a.Clock, cfg.Cycle.BatchConcurrency, log)
	a.Prediction = services.NewPredictionService(a.Store, predictionModel, promoter, rec, a.Clock, cfg.Cycle.BatchConcurrency, log)

	pipeline := services.Pipeline{
		Identity:  services.NewIdentityService(a.Store.Properties, a.Counties, rec, log),
		Signals:   services.NewSignalService(a.Store.Events, rec, log),
		Scoring:   a.Scoring,
		Promotion: promoter,
	}
	a.Cycles = services.NewCycleService(a.Store, pipeline, Adapters(cfg.Sources), a.Counties, rec, a.Clock, services.CycleConfig{
		AdapterTimeout: cfg.Cycle.AdapterTimeout,
		Workers:        cfg.Cycle.Workers,
	}, log)

	a.Gate = compliance.New(cfg.Compliance.URL, cfg.Compliance.Timeout)
	if cfg.Compliance.URL == "" {
		log.Warn("Compliance gate not configured, every contact will be blocked", nil)
	}

	log.Info("Pipeline ready", map[string]interface{}{
		"driver":           cfg.Database.Driver,
		"scoring_model":    a.Scoring.ModelVersion(),
		"prediction_model": a.Prediction.ModelVersion(),
		"counties":         cfg.Counties.Known,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.Database
	if cfg.Driver == config.DriverMemory {
		a.Log.Warn("Using in-memory store, nothing will be persisted", nil)
		a.Store = repository.NewMemoryStore(a.Clock).Store()
		return nil
	}

	db, err := database.ConnectWithRetry(ctx, cfg, func(err error, next time.Duration) {
		a.Log.Warn("Database not reachable, retrying", map[string]interface{}{
			"host":  cfg.Host,
			"port":  cfg.Port,
			"error": err.Error(),
			"retry": next.String(),
		})
	})
	if err != nil {
		return err
	}
	a.Log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Name,
		"pool_min": cfg.PoolMin,
		"pool_max": cfg.PoolMax,
	})

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return err
		}
		a.Log.Info("Schema applied", nil)
	}

	a.db = db
	a.Store = repository.NewPostgresStore(db)
	return nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// Handlers builds the HTTP handlers over the wired services.
func (a *App) Handlers() handlers.Handlers {
	return handlers.Handlers{
		Health: handlers.NewHealthHandler(a.Store, a.Config.Server.Env, a.Config.Database.Driver, handlers.ModelVersions{
			Scoring:    a.Scoring.ModelVersion(),
			Prediction: a.Prediction.ModelVersion(),
		}),
		Cycles:    handlers.NewCycleHandler(a.Cycles),
		Scores:    handlers.NewScoreHandler(a.Scoring, a.Prediction, a.Clock),
		CallQueue: handlers.NewCallQueueHandler(a.Gate),
	}
}

// ScoringModel applies configured overrides to the default scoring model.
func ScoringModel(cfg config.ScoringConfig) (scoring.Model, error) {
	m := scoring.DefaultModel()
	if cfg.HalfLifeDays > 0 {
		m.HalfLifeDays = cfg.HalfLifeDays
	}
	if cfg.SignalScale > 0 {
		m.SignalScale = cfg.SignalScale
	}
	if cfg.SignalCap > 0 {
		m.SignalCap = cfg.SignalCap
	}
	if cfg.StackCap > 0 {
		m.StackCap = cfg.StackCap
	}
	if cfg.BaselineConversion > 0 {
		m.BaselineConversion = cfg.BaselineConversion
	}
	if err := m.Validate(); err != nil {
		return scoring.Model{}, fmt.Errorf("%w: scoring model: %v", ErrInvalidConfig, err)
	}
	return m, nil
}

// PredictionModel applies configured overrides to the default predictive model.
func PredictionModel(cfg config.PredictionConfig) (prediction.Model, error) {
	m := prediction.DefaultModel()
	if cfg.HorizonDays > 0 {
		m.HorizonDays = cfg.HorizonDays
	}
	if err := m.Validate(); err != nil {
		return prediction.Model{}, fmt.Errorf("%w: prediction model: %v", ErrInvalidConfig, err)
	}
	return m, nil
}

// Adapters builds the pull adapters whose URLs are configured.
func Adapters(cfg config.SourcesConfig) []sources.Adapter {
	var adapters []sources.Adapter
	if cfg.CommercialURL != "" {
		adapters = append(adapters, sources.NewCommercialAdapter(cfg.CommercialName, cfg.CommercialURL, cfg.CommercialAPIKey, cfg.CommercialTimeout))
	}
	if cfg.CrawlerURL != "" {
		adapters = append(adapters, sources.NewCrawlerAdapter(cfg.CrawlerName, cfg.CrawlerURL, cfg.CrawlerMaxPages, cfg.CrawlerTimeout))
	}
	return adapters
}
