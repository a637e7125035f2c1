package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/miyah/internal/mesh"
	"github.com/alfredjeanlab/miyah/internal/model"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Join the mesh as a requester and show who is around",
	Long: `Join the mesh as a requester, announce presence and print the envelopes
received and the peers heard from. Runs until interrupted, or for --duration.`,
	GroupID: "mesh",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		refresh, _ := cmd.Flags().GetDuration("refresh")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		var setup func(*mesh.Service)
		if !quiet && !jsonOutput {
			setup = func(svc *mesh.Service) {
				svc.OnMessage(func(env model.Envelope) {
					printEnvelopeLine(stdout, env)
				})
			}
		}
		ep, err := openMesh(ctx, cfg, mesh.RoleRequester, nil, logger, setup)
		if err != nil {
			return err
		}
		defer ep.Close()

		if !jsonOutput {
			fmt.Fprintf(stdout, "Joined mesh as %s\n", renderID(ep.ID()))
		}

		var ticks <-chan time.Time
		if refresh > 0 && !jsonOutput {
			ticker := time.NewTicker(refresh)
			defer ticker.Stop()
			ticks = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				peers := ep.ListPeers()
				if jsonOutput {
					return printJSON(peers)
				}
				fmt.Fprintln(stdout)
				printPeerTable(stdout, peers, time.Now())
				return nil
			case <-ticks:
				printPeerTable(stdout, ep.ListPeers(), time.Now())
			}
		}
	},
}

func init() {
	peersCmd.Flags().Duration("duration", 0, "leave the mesh after this long (default: until interrupted)")
	peersCmd.Flags().Duration("refresh", 30*time.Second, "print the peer table this often (0 disables)")
	peersCmd.Flags().BoolP("quiet", "q", false, "do not print received envelopes")
}
