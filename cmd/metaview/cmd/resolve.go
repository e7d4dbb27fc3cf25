package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vidinfra/metaview/internal/resolve"
	"github.com/vidinfra/metaview/internal/service"
)

var (
	resolveRegion      string
	resolveEnvironment string
	resolveCDN         string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <channel>",
	Short: "Resolve a channel name to a playback URL",
	Long: `Look up a channel in the configured channel tables and query the
resolution service for its playback URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveRegion, "region", "", "region passed to the resolution service")
	resolveCmd.Flags().StringVar(&resolveEnvironment, "environment", "prod", "resolution environment (prod, qa)")
	resolveCmd.Flags().StringVar(&resolveCDN, "cdn", "", "CDN code passed to the resolution service (cf, ak, fa)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc := service.NewSessionService(cfg, slog.Default())
	defer svc.Close()

	playURL, err := svc.Resolve(context.Background(), resolve.Request{
		Channel:     args[0],
		Region:      resolveRegion,
		Environment: resolveEnvironment,
		CDN:         resolveCDN,
	})
	if err != nil {
		return fmt.Errorf("resolving channel %q: %w", args[0], err)
	}

	fmt.Println(playURL)
	return nil
}
