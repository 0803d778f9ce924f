package commands

import (
	"context"
	"fmt"

	"github.com/meridian-gis/geoquery/internal/audit"
	"github.com/meridian-gis/geoquery/internal/cache"
	"github.com/meridian-gis/geoquery/internal/compliance"
	"github.com/meridian-gis/geoquery/internal/config"
	"github.com/meridian-gis/geoquery/internal/executor"
	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/provider"
	"github.com/meridian-gis/geoquery/internal/schema"
	"github.com/meridian-gis/geoquery/internal/security"
	"github.com/meridian-gis/geoquery/internal/session"
	"github.com/meridian-gis/geoquery/internal/source"
)

// app holds the wired pipeline components shared by the commands.
type app struct {
	Registry *schema.Registry
	Compiler *nlq.Compiler
	Executor *executor.Executor
	Source   source.FeatureSource
	Cache    cache.Client
	Checker  *compliance.Checker
	Sessions *session.Manager
	Audit    *audit.Log
}

// newApp wires the full pipeline from configuration. Components that need
// external services (provider API key, feature source) are only built when
// withProvider / withSource ask for them.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, withProvider, withSource bool) (*app, error) {
	a := &app{}

	a.Registry = schema.NewRegistry(logger.WithComponent("schema"))
	if cfg.Source.Kind == "arcgis" && cfg.Source.ServiceURL != "" {
		if err := a.Registry.LoadFromService(ctx, cfg.Source.ServiceURL); err != nil {
			logger.Warn().Err(err).Msg("Could not load schema from service, continuing with default mappings")
		}
	}

	sec := security.NewValidator(security.WithMaxLength(cfg.Compiler.MaxQueryLength))

	if cfg.Cache.Enabled {
		client, err := newCacheClient(cfg)
		if err != nil {
			return nil, err
		}
		a.Cache = client
	}

	if withProvider {
		gen, err := newGenerator(cfg, logger)
		if err != nil {
			return nil, err
		}

		var queryCache *nlq.QueryCache
		if a.Cache != nil {
			queryCache = nlq.NewQueryCache(a.Cache, cfg.Cache.TTL, logger.WithComponent("cache"))
		}

		a.Compiler = nlq.NewCompiler(gen, a.Registry, sec, queryCache, logger.WithComponent("compiler"), nlq.CompilerOptions{
			MaxTokens:        cfg.Provider.MaxTokens,
			Mode:             nlq.ParseValidationMode(cfg.Compiler.ValidationMode),
			LimitWarnCeiling: cfg.Compiler.LimitWarnCeiling,
		})
	}

	if withSource {
		src, err := newSource(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Source = src
		a.Executor = executor.New(src, logger.WithComponent("executor"), executor.Options{
			MaxResults: cfg.Executor.MaxResults,
			PageSize:   cfg.Source.PageSize,
			MaxPages:   cfg.Source.MaxPages,
		})
	}

	checker, err := compliance.NewChecker(compliance.Policy{
		MinAreaSqMiles: cfg.Compliance.MinAreaSqMiles,
		AreaField:      cfg.Compliance.AreaField,
		NameField:      cfg.Compliance.NameField,
	}, logger.WithComponent("compliance"))
	if err != nil {
		return nil, err
	}
	a.Checker = checker

	a.Sessions, err = session.NewManager(session.Config{
		Dir:            cfg.Session.Dir,
		AutoBackup:     cfg.Session.AutoBackup,
		BackupCount:    cfg.Session.BackupCount,
		CompressBackup: cfg.Session.CompressBackup,
	}, logger.WithComponent("session"))
	if err != nil {
		return nil, err
	}

	if cfg.Audit.Enabled {
		a.Audit, err = audit.Open(cfg.Audit.Path, logger.WithComponent("audit"))
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Close releases the app's external handles.
func (a *app) Close() {
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.Audit != nil {
		a.Audit.Close()
	}
}

func newCacheClient(cfg *config.Config) (cache.Client, error) {
	switch cfg.Cache.Driver {
	case "redis":
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
	default:
		return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
	}
}

func newGenerator(cfg *config.Config, logger *observability.Logger) (provider.Generator, error) {
	gen, err := provider.New(provider.Backend(cfg.Provider.Backend), provider.Config{
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout,
	})
	if err != nil {
		return nil, err
	}

	policy := provider.RetryPolicy{
		MaxRetries: cfg.Provider.MaxRetries,
		BaseDelay:  cfg.Provider.BaseDelay,
		MaxDelay:   cfg.Provider.MaxDelay,
	}
	return provider.NewRetrying(gen, policy, logger.WithProvider(cfg.Provider.Backend)), nil
}

func newSource(cfg *config.Config, logger *observability.Logger) (source.FeatureSource, error) {
	switch cfg.Source.Kind {
	case "geojson":
		if cfg.Source.GeoJSONPath == "" {
			return nil, fmt.Errorf("source.geojson_path is required for the geojson source")
		}
		return source.LoadGeoJSON(cfg.Source.GeoJSONPath, logger.WithComponent("source"))
	default:
		if cfg.Source.ServiceURL == "" {
			return nil, fmt.Errorf("source.service_url is required for the arcgis source")
		}
		return source.NewArcGISClient(source.ArcGISConfig{
			ServiceURL:     cfg.Source.ServiceURL,
			ConnectTimeout: cfg.Source.ConnectTimeout,
			ReadTimeout:    cfg.Source.ReadTimeout,
		}, logger.WithComponent("source"))
	}
}
