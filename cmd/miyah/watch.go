package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alfredjeanlab/miyah/internal/events"
	"github.com/alfredjeanlab/miyah/internal/feed"
	"github.com/alfredjeanlab/miyah/internal/mesh"
	"github.com/alfredjeanlab/miyah/internal/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow incoming reports from the mesh and the report store",
	Long: `Run a receiver dashboard.

New reports are printed as they arrive, either pushed over the mesh or picked
up by polling the report store. When an events URL is configured, store
changes trigger an early poll.

On a terminal, the dashboard also reads commands from stdin:

  v <id>   toggle the verified flag of a report
  d <id>   delete a report from the feed and the store
  l        list the feed
  p        poll the store now`,
	GroupID: "mesh",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = cfg.PollInterval.Duration
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		feedMetrics, err := feed.NewMetrics(reg)
		if err != nil {
			return err
		}
		meshMetrics, err := mesh.NewMetrics(reg)
		if err != nil {
			return err
		}

		f := feed.New()
		rec := feed.NewReconciler(f, reportsClient, feed.Config{
			Interval: interval,
			Logger:   logger,
			Metrics:  feedMetrics,
		})

		if once {
			if _, err := rec.PollOnce(ctx); err != nil {
				return fmt.Errorf("polling report store: %w", err)
			}
			if jsonOutput {
				return printJSON(f.Items())
			}
			printReportTable(stdout, f.Items())
			return nil
		}

		if metricsAddr != "" {
			go serveMetrics(ctx, metricsAddr, reg, logger)
		}

		f.OnAdd(func(r model.Report) {
			if jsonOutput {
				_ = printJSON(r)
				return
			}
			printReportLine(stdout, r)
		})

		var detach func()
		ep, err := openMesh(ctx, cfg, mesh.RoleReceiver, meshMetrics, logger, func(svc *mesh.Service) {
			detach = rec.Attach(svc)
		})
		if err != nil {
			return err
		}
		defer ep.Close()
		defer detach()

		if cfg.EventsURL != "" {
			// Polling still works without events.
			if sub, err := dialEvents(cfg.EventsURL, rec, logger); err != nil {
				logger.Warn("watch: store events unavailable", "url", cfg.EventsURL, "error", err)
			} else {
				defer sub.Close()
				if stopEvents, err := nudgeOnEvents(sub, rec); err != nil {
					logger.Warn("watch: store events unavailable", "url", cfg.EventsURL, "error", err)
				} else {
					defer stopEvents()
				}
			}
		}

		if term.IsTerminal(int(os.Stdin.Fd())) {
			go runCommands(ctx, os.Stdin, rec, stdout)
		}

		logger.Info("watch: receiving", "id", ep.ID(), "server", cfg.ServerURL, "interval", interval)
		err = rec.Run(ctx)
		rec.Wait()
		return err
	},
}

// nudger is the part of a reconciler that store events drive.
type nudger interface {
	Nudge()
}

// dialEvents connects to the store event bus. A reconnect nudges n to cover
// events missed while disconnected.
func dialEvents(url string, n nudger, l *slog.Logger) (*events.NATSSubscriber, error) {
	return events.NewNATSSubscriber(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Debug("watch: events disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			l.Debug("watch: events reconnected")
			n.Nudge()
		}),
	)
}

// nudgeOnEvents nudges n for every report event sub delivers. The returned
// function unsubscribes; sub stays open.
func nudgeOnEvents(sub events.Subscriber, n nudger) (func(), error) {
	ch, cancel, err := sub.Subscribe(events.TopicReports)
	if err != nil {
		return nil, fmt.Errorf("subscribing to events: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			n.Nudge()
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func init() {
	watchCmd.Flags().Bool("once", false, "poll the store once, print the feed and exit")
	watchCmd.Flags().Duration("interval", 0, "poll interval (default $MIYAH_POLL_INTERVAL or 5s)")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
}
