package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/chunkplay/internal/playback"
	"github.com/jmylchreest/chunkplay/pkg/bytesize"
)

var playCmd = &cobra.Command{
	Use:   "play <asset-id>",
	Short: "Stream an asset through the built-in playback engine",
	Long: `Stream an asset chunk by chunk through the simulated playback engine.

The command loads the asset manifest, buffers the first chunk, starts the
playback clock and prefetches each following chunk as the buffered lead
drops below the prefetch threshold. It exits once the whole asset has been
played, or with an error if playback fails.

Appended media can be written to a file with --output.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringP("output", "o", "", "write appended media to this file")
	playCmd.Flags().Float64("speed", 1.0, "playback clock speed multiplier")
	playCmd.Flags().Duration("status-interval", 5*time.Second, "how often to log playback status")
	mustBindPFlag("engine.speed", playCmd.Flags().Lookup("speed"))
}

func runPlay(cmd *cobra.Command, args []string) error {
	assetID := args[0]
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var sink io.Writer
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		sink = f
	}

	rt, err := newRuntime(cfg, logger, sink)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := rt.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", slog.String("error", err.Error()))
		}
	}()

	if err := rt.controller.Load(ctx, assetID); err != nil {
		return fmt.Errorf("loading %s: %w", assetID, err)
	}
	rt.controller.Play()

	interval, _ := cmd.Flags().GetDuration("status-interval")
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return waitForPlayback(ctx, rt, interval, logger)
}

// waitForPlayback blocks until the asset has been played out, playback
// errors, or ctx is cancelled.
func waitForPlayback(ctx context.Context, rt *runtime, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	drained := rt.engine.Drained()
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping playback")
			if err := rt.controller.Stop(); err != nil && !errors.Is(err, playback.ErrInvalidState) {
				return err
			}
			rt.controller.Wait()
			return nil

		case <-drained:
			rt.controller.Wait()
			st := rt.controller.Status()
			logger.Info("playback finished",
				slog.String("session_id", st.SessionID),
				slog.Int("chunks", st.Stats.ChunksAppended),
				slog.String("bytes", bytesize.Format(bytesize.Size(st.Stats.BytesAppended))),
				slog.Duration("duration", st.BufferedThrough),
			)
			return nil

		case <-ticker.C:
			st := rt.controller.Status()
			if st.State == playback.StateErrored.String() {
				return fmt.Errorf("playback failed: %w", rt.controller.Err())
			}
			logger.Info("playback status",
				slog.String("state", st.State),
				slog.Int("cursor", st.Cursor),
				slog.Int("last_index", st.LastIndex),
				slog.Duration("position", st.Position),
				slog.Duration("buffered_through", st.BufferedThrough),
				slog.String("message", st.Message),
				slog.Float64("speed", viper.GetFloat64("engine.speed")),
			)
		}
	}
}
