package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"isimip/internal/config"
	"isimip/internal/dataset"
	"isimip/internal/fetch"
	"isimip/internal/logger"
	"isimip/internal/observability"
	"isimip/internal/worker/runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	ctx      context.Context
	runtime  runtime.Runtime
	store    *fetch.Store
	recorder *observability.Recorder

	closers []func(context.Context) error
}

// newApp loads configuration and wires logging, observability, the runtime
// and the output store.
func newApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{
		cfg: cfg,
		log: logger.NewWithOptions(logger.Options{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			Output: cmd.ErrOrStderr(),
		}),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.ctx = logger.WithRunID(ctx, uuid.NewString())

	if err := a.initObservability(); err != nil {
		a.close()
		return nil, err
	}

	switch cfg.Runtime {
	case "docker":
		rt, err := runtime.NewDockerRuntime(cfg.RuntimeImage)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%w: %w", runtime.ErrMissingPrerequisite, err)
		}
		a.runtime = rt
	case "kubernetes":
		rt, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:   cfg.KubeNamespace,
			VolumeClaim: cfg.KubeVolumeClaim,
			Image:       cfg.RuntimeImage,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%w: %w", runtime.ErrMissingPrerequisite, err)
		}
		a.runtime = rt
	default:
		a.runtime = runtime.NewExecRuntime(cfg.OutputDir)
	}

	store, err := fetch.OpenStore(cfg.OutputDir)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	logger.FromContext(a.ctx, a.log).Debug("configuration loaded",
		"output", store.Root(),
		"runtime", cfg.Runtime,
		"crop_engine", cfg.CropEngine,
	)
	return a, nil
}

func (a *app) initObservability() error {
	shutdownTracer, err := observability.InitTracer(a.ctx, observability.TracerConfig{
		ServiceName: "isimip",
		Endpoint:    a.cfg.OTELEndpoint,
		RunID:       logger.RunIDFromContext(a.ctx),
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	if a.cfg.MetricsAddr == "" {
		return nil
	}

	handler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	a.closers = append(a.closers, shutdownMetrics)

	recorder, err := observability.NewRecorder()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	a.recorder = recorder

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Info("metrics listening", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server error", "error", err)
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("shutdown error", "error", err)
		}
	}
	a.closers = nil
}

// selection parses the selection flags of cmd.
func selection(cmd *cobra.Command) (dataset.Selection, error) {
	models, _ := cmd.Flags().GetStringSlice("model")
	scenarios, _ := cmd.Flags().GetStringSlice("scenario")

	// Post stages work per model/scenario directory and take no variables.
	variables := []string{string(dataset.VariableTas)}
	if cmd.Flags().Lookup("variable") != nil {
		variables, _ = cmd.Flags().GetStringSlice("variable")
	}
	return dataset.ParseSelection(models, variables, scenarios)
}
