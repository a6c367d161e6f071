package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/chunkplay/internal/backend"
	"github.com/jmylchreest/chunkplay/internal/config"
	"github.com/jmylchreest/chunkplay/internal/engine"
	"github.com/jmylchreest/chunkplay/internal/observability"
	"github.com/jmylchreest/chunkplay/internal/playback"
)

// runtime is the wired playback stack shared by play and serve.
type runtime struct {
	backend    *backend.Client
	engine     *engine.Engine
	controller *playback.Controller
}

func newRuntime(cfg *config.Config, logger *slog.Logger, sink io.Writer) (*runtime, error) {
	client, err := backend.NewClient(cfg.Backend, observability.WithComponent(logger, "backend"))
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}

	engineOpts := []engine.Option{engine.WithLogger(observability.WithComponent(logger, "engine"))}
	if sink != nil {
		engineOpts = append(engineOpts, engine.WithSink(sink))
	}
	eng := engine.New(cfg.Engine, engineOpts...)

	ctrl := playback.NewController(client, client, eng,
		playback.OptionsFromConfig(cfg.Playback, cfg.Engine, logger))
	eng.SetPositionListener(ctrl.OnPositionUpdate)

	return &runtime{backend: client, engine: eng, controller: ctrl}, nil
}
