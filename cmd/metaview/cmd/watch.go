package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidinfra/metaview/internal/resolve"
	"github.com/vidinfra/metaview/internal/service"
)

var (
	watchDuration    time.Duration
	watchChannel     string
	watchRegion      string
	watchEnvironment string
	watchCDN         string
	watchNoExport    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Play a stream in the foreground and export a session snapshot",
	Long: `Play an HLS stream for a fixed duration, recording the metadata log,
cache metrics, and resolution ladder, then write an export snapshot to
the export directory.

The stream is given either as a manifest URL argument or resolved from
a channel name with --channel. Interrupting with Ctrl-C stops playback
early and still writes the export.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "how long to play before exporting (default from config)")
	watchCmd.Flags().StringVar(&watchChannel, "channel", "", "channel name to resolve instead of a URL argument")
	watchCmd.Flags().StringVar(&watchRegion, "region", "", "region passed to the resolution service")
	watchCmd.Flags().StringVar(&watchEnvironment, "environment", "prod", "resolution environment (prod, qa)")
	watchCmd.Flags().StringVar(&watchCDN, "cdn", "", "CDN code passed to the resolution service (cf, ak, fa)")
	watchCmd.Flags().BoolVar(&watchNoExport, "no-export", false, "skip writing export files")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if watchChannel == "" && len(args) == 0 {
		return fmt.Errorf("either a manifest URL argument or --channel is required")
	}

	svc := service.NewSessionService(cfg, logger)
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	streamURL := ""
	if len(args) > 0 {
		streamURL = args[0]
	}
	if watchChannel != "" {
		streamURL, err = svc.Resolve(ctx, resolve.Request{
			Channel:     watchChannel,
			Region:      watchRegion,
			Environment: watchEnvironment,
			CDN:         watchCDN,
		})
		if err != nil {
			return fmt.Errorf("resolving channel %q: %w", watchChannel, err)
		}
		fmt.Fprintln(os.Stderr, "Resolved", watchChannel, "to", streamURL)
	}

	sess, err := svc.Start(ctx, streamURL)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	duration := watchDuration
	if duration <= 0 {
		duration = cfg.Session.WatchDuration
	}

	logger.Info("watching stream",
		slog.String("session_id", sess.ID),
		slog.Duration("duration", duration),
	)

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		logger.Info("interrupted, exporting early")
	}

	// Export wants a live context even when the watch was interrupted.
	exportCtx, exportCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer exportCancel()

	snapshot, jsonPath, pngPath, err := svc.Export(exportCtx, sess.ID, !watchNoExport)
	if err != nil {
		return fmt.Errorf("exporting session: %w", err)
	}

	for _, line := range snapshot.Metadata {
		fmt.Println(line)
	}
	if jsonPath != "" {
		fmt.Fprintln(os.Stderr, "Export written:", jsonPath)
	}
	if pngPath != "" {
		fmt.Fprintln(os.Stderr, "Screenshot written:", pngPath)
	}

	return svc.Stop(sess.ID)
}
