package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/resolver/internal/application"
	"github.com/JonMunkholm/resolver/internal/config"
	"github.com/JonMunkholm/resolver/internal/logging"
)

// cli carries state shared by subcommands.
type cli struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Detect, preview, stage and resolve CSV imports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine; the environment may be set already
			if err := godotenv.Load(c.envFile); err == nil {
				slog.Debug("loaded env file", "path", c.envFile)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			c.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file to load before reading configuration")

	cmd.AddCommand(
		newDetectCmd(c),
		newSuggestCmd(c),
		newAnalyzeCmd(c),
		newPreviewCmd(c),
		newImportCmd(c),
		newResolveCmd(c),
		newRowsCmd(c),
		newDeleteCmd(c),
		newSeedCmd(c),
	)
	return cmd
}

// open builds the service from the loaded configuration.
func (c *cli) open(cmd *cobra.Command) (*application.App, error) {
	return application.Open(cmd.Context(), c.cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
