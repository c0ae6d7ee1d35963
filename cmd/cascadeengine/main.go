// Command cascadeengine runs one pipeline described by a pipeline.yaml
// file: a storage backend, a set of named steps wired into streams by
// port name, and an optional status endpoint. It exists to demonstrate
// the engine package end to end; production embedders are expected to
// call engine.New directly and register their own step types instead of
// going through YAML and a kind registry.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/cascadeflow/cascadeflow/cmd/cascadeengine/demosteps"
	"github.com/cascadeflow/cascadeflow/internal/engine"
	"github.com/cascadeflow/cascadeflow/internal/logger"
	"github.com/cascadeflow/cascadeflow/internal/statusapi"
	"github.com/cascadeflow/cascadeflow/internal/step"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/internal/store/pebble"
	"github.com/cascadeflow/cascadeflow/internal/store/postgres"
	"github.com/cascadeflow/cascadeflow/internal/store/sqlite"
	"github.com/cascadeflow/cascadeflow/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "path to the pipeline config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "console", "log format: console or json")
	flag.Parse()

	logger.Initialize(*logLevel, *logFormat)
	log := logger.Get()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("cascadeengine exited with error")
	}
}

func run(configPath string) error {
	log := logger.Get()

	cfg, err := loadPipelineConfig(configPath)
	if err != nil {
		return err
	}

	ctx := logger.WithContext(context.Background(), log)

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "open storage backend")
	}
	defer st.Close()

	mtr := telemetry.New()
	eng := engine.New(cfg.Project, st)
	eng.Manager().SetMetrics(mtr)

	for _, sc := range cfg.Steps {
		s, err := buildStep(sc, st)
		if err != nil {
			return errors.Wrapf(err, "build step %q", sc.Name)
		}
		if err := eng.Register(s); err != nil {
			return errors.Wrapf(err, "register step %q", sc.Name)
		}
	}

	var status *statusapi.Server
	if cfg.Status != nil {
		status = statusapi.New(cfg.Project, eng.Manager(), mtr)
		go func() {
			log.Info().Str("addr", cfg.Status.Addr).Msg("status endpoint listening")
			if err := status.ListenAndServe(cfg.Status.Addr); err != nil {
				log.Error().Err(err).Msg("status endpoint stopped")
			}
		}()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("project", cfg.Project).Int("steps", len(cfg.Steps)).Msg("pipeline starting")
	runErr := eng.Run(runCtx)

	if status != nil {
		if err := status.Shutdown(); err != nil {
			log.Error().Err(err).Msg("status endpoint shutdown failed")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Wrap(runErr, "engine run")
	}
	log.Info().Str("project", cfg.Project).Msg("pipeline reached quiescence")
	return nil
}

func openStore(ctx context.Context, cfg storageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "pebble":
		return pebble.Open(cfg.DSN)
	default:
		return nil, errors.Newf("storage: unknown backend %q", cfg.Backend)
	}
}

// buildStep maps one stepConfig entry to a concrete step.Step using the
// bundled demo collaborators in demosteps. Production embedders would
// replace this with their own Generator/Processor/Sinker registry.
func buildStep(sc stepConfig, st store.Store) (step.Step, error) {
	switch sc.Kind {
	case "source.counter":
		prefix, _ := sc.Params["prefix"].(string)
		gen := &demosteps.Counter{Prefix: prefix}
		return step.NewSource(sc.Name, sc.Output, sc.Count, gen, st), nil

	case "transform.uppercase":
		parallel := sc.Parallel
		if parallel <= 0 {
			parallel = 1
		}
		return step.NewTransform(sc.Name, sc.Input, sc.Output, parallel, demosteps.Uppercase{}, st), nil

	case "sink.stdout":
		return step.NewSink(sc.Name, sc.Input, demosteps.StdoutSink{}), nil

	default:
		return nil, errors.Newf("step %q: unknown kind %q", sc.Name, sc.Kind)
	}
}
