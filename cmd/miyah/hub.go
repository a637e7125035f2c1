package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run an embedded NATS server as the shared mesh medium",
	Long: `Run an embedded NATS server with JetStream enabled. Every mesh endpoint
that points MIYAH_NATS_URL at it shares one medium; the kv transport keeps its
relay bucket in the JetStream store directory.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		storeDir, _ := cmd.Flags().GetString("store-dir")
		if storeDir == "" {
			storeDir = filepath.Join(os.TempDir(), "miyah-hub")
		}

		ns, err := startHub(host, port, storeDir)
		if err != nil {
			return err
		}
		logger.Info("hub listening", "url", ns.ClientURL(), "store_dir", storeDir)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		ns.Shutdown()
		ns.WaitForShutdown()
		logger.Info("hub stopped")
		return nil
	},
}

// startHub starts an embedded NATS server with JetStream and waits until it
// accepts connections. A port of -1 picks a free one.
func startHub(host string, port int, storeDir string) (*natsserver.Server, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "miyah-hub",
		Host:       host,
		Port:       port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating hub: %w", err)
	}
	if verbose {
		ns.ConfigureLogger()
	}
	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("hub not ready for connections on %s:%d", host, port)
	}
	return ns, nil
}

func init() {
	hubCmd.Flags().String("host", "127.0.0.1", "listen host")
	hubCmd.Flags().Int("port", 4222, "listen port")
	hubCmd.Flags().String("store-dir", "", "JetStream store directory (default $TMPDIR/miyah-hub)")
}
