package cli

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/adapters/filestore"
	"github.com/ppiankov/claimgate/internal/identity"
	"github.com/ppiankov/claimgate/internal/logging"
	"github.com/ppiankov/claimgate/internal/metrics"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/pipeline"
	"github.com/ppiankov/claimgate/internal/ports"
	"github.com/ppiankov/claimgate/internal/store"
)

// app is everything a command needs, built from configuration
type app struct {
	cfg      *model.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	backend  store.Backend
	engine   *pipeline.Engine
	identity ports.IdentityProvider
}

// loadConfig layers the config file and environment over the defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	// Env-only keys need to be known to viper before Unmarshal sees them
	bindEnv(reflect.TypeOf(*cfg), "")
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers every mapstructure key path with viper
func bindEnv(t reflect.Type, prefix string) {
	for i := range t.NumField() {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			bindEnv(f.Type, key)
			continue
		}
		_ = viper.BindEnv(key)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return nil, err
	}

	files, err := filestore.New(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	collab := ports.Collaborators{Manuscripts: files, Manifests: files, Variables: files, Approvals: files}

	provider, err := identity.New(cfg.Identity)
	if err != nil {
		return nil, err
	}

	backend, err := pipeline.OpenBackend(ctx, cfg.Storage, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	m := metrics.New()
	engine, err := pipeline.Build(ctx, cfg, collab, backend, m, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	logger.Debug("claimgate ready",
		zap.String("data_dir", cfg.Data.Dir),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("similarity", cfg.Similarity.Method),
		zap.String("delivery", cfg.Delivery.Sink))

	return &app{cfg: cfg, logger: logger, metrics: m, backend: backend, engine: engine, identity: provider}, nil
}

// actorContext authenticates the operator and attaches the actor to ctx
func (a *app) actorContext(ctx context.Context) (context.Context, model.Actor, error) {
	actor, err := a.identity.Authenticate(ctx, viper.GetString("token"))
	if err != nil {
		return nil, model.Actor{}, err
	}
	return identity.NewContext(ctx, actor), actor, nil
}

func (a *app) Close() error {
	_ = a.logger.Sync()
	return a.backend.Close()
}

// withApp builds the app, runs fn as the authenticated actor and closes up
func withApp(ctx context.Context, fn func(ctx context.Context, a *app, actor model.Actor) error) (err error) {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	ctx, actor, err := a.actorContext(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, a, actor)
}
