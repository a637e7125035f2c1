package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/miyah/internal/client"
	"github.com/alfredjeanlab/miyah/internal/config"
	"github.com/alfredjeanlab/miyah/internal/ui"
)

var (
	configPath    string
	serverURL     string
	authToken     string
	natsURL       string
	meshTransport string
	meshCodec     string
	jsonOutput    bool
	verbose       bool
	noColor       bool

	cfg           *config.Config
	logger        *slog.Logger
	reportsClient client.ReportsClient
)

var rootCmd = &cobra.Command{
	Use:           "miyah <command>",
	Short:         "Offline-first service requests over a local peer mesh",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(verbose)
		slog.SetDefault(logger)
		ui.SetColor(!noColor && !jsonOutput && ui.ShouldUseColor())
		reportsClient = client.NewHTTPClient(cfg.ServerURL, cfg.AuthToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if reportsClient != nil {
			reportsClient.Close()
		}
	},
}

// loadConfig reads the configuration file and environment, then applies any
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		c   *config.Config
		err error
	)
	if configPath != "" {
		c, err = config.LoadFile(configPath)
	} else {
		c, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"server":    &c.ServerURL,
		"token":     &c.AuthToken,
		"nats":      &c.NATSURL,
		"transport": &c.Transport,
		"codec":     &c.Codec,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "TOML config file (default $MIYAH_CONFIG)")
	pf.StringVar(&serverURL, "server", "", "report store URL (default $MIYAH_SERVER_URL or http://localhost:8080)")
	pf.StringVar(&authToken, "token", "", "bearer token for the report store (default $MIYAH_AUTH_TOKEN)")
	pf.StringVar(&natsURL, "nats", "", "NATS URL of the mesh hub (default $MIYAH_NATS_URL)")
	pf.StringVar(&meshTransport, "transport", "", "mesh transport: nats or kv (default $MIYAH_TRANSPORT or nats)")
	pf.StringVar(&meshCodec, "codec", "", "envelope codec: json or proto (default $MIYAH_CODEC or json)")
	pf.BoolVar(&jsonOutput, "json", false, "output as JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "mesh", Title: "Mesh:"},
		&cobra.Group{ID: "reports", Title: "Reports:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Mesh
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(peersCmd)

	// Reports
	rootCmd.AddCommand(reportsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
