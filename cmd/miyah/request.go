package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/miyah/internal/config"
	"github.com/alfredjeanlab/miyah/internal/mesh"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/requester"
)

var requestCmd = &cobra.Command{
	Use:     "request <category>",
	Short:   "Submit a service request on the mesh and to the report store",
	Long: `Submit a service request.

The report is broadcast on the mesh so that receivers on the same hub see it
immediately, and posted to the report store under the same id. A failure
on either path is reported but does not fail the command, as long as the
other path delivered the report.

Categories: water, power, aid (any other value is accepted and shown as a
general report).`,
	GroupID: "mesh",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		location, _ := cmd.Flags().GetString("location")
		photo, _ := cmd.Flags().GetString("photo")
		audio, _ := cmd.Flags().GetString("audio")
		id, _ := cmd.Flags().GetString("id")
		meshOnly, _ := cmd.Flags().GetBool("mesh-only")

		payload := model.ReportPayload{
			Category: model.Category(args[0]),
			Message:  message,
			Location: location,
			PhotoRef: photo,
			AudioRef: audio,
		}
		if err := model.ValidateReportPayload(&payload); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var store requester.ReportCreator
		if !meshOnly {
			store = reportsClient
		}
		res, err := submitReport(ctx, cfg, store, id, payload, logger)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(submitOutput(res))
		}
		printSubmitResult(stdout, res, meshOnly)
		return nil
	},
}

// submitReport broadcasts p from a requester mesh and posts it to store. When
// the hub cannot be reached the report still goes to the store; it fails only
// when neither path took the report.
func submitReport(ctx context.Context, c *config.Config, store requester.ReportCreator, id string, p model.ReportPayload, l *slog.Logger) (*requester.Result, error) {
	var b requester.Broadcaster
	ep, meshErr := openMesh(ctx, c, mesh.RoleRequester, nil, l, nil)
	switch {
	case meshErr == nil:
		defer ep.Close()
		b = ep
	case store == nil:
		return nil, meshErr
	default:
		l.Warn("request: mesh unavailable, submitting to the store only", "error", meshErr)
	}

	res, err := requester.NewSubmitter(b, store, l).SubmitWithID(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if meshErr != nil {
		res.MeshErr = meshErr
		if !res.Stored {
			return nil, fmt.Errorf("report %s not delivered: %w", res.ID, meshErr)
		}
	}
	return res, nil
}

// submitResult is the --json form of a submission.
type submitResult struct {
	ID        string    `json:"id"`
	Broadcast bool      `json:"broadcast"`
	SentAt    time.Time `json:"sentAt,omitzero"`
	Stored    bool      `json:"stored"`
	Created   bool      `json:"created"`
	MeshErr   string    `json:"meshError,omitempty"`
	StoreErr  string    `json:"storeError,omitempty"`
}

func submitOutput(res *requester.Result) submitResult {
	out := submitResult{
		ID:        res.ID,
		Broadcast: res.Envelope != nil,
		Stored:    res.Stored,
		Created:   res.Created,
	}
	if res.Envelope != nil {
		out.SentAt = res.Envelope.Created().UTC()
	}
	if res.MeshErr != nil {
		out.MeshErr = res.MeshErr.Error()
	}
	if res.StoreErr != nil {
		out.StoreErr = res.StoreErr.Error()
	}
	return out
}

func printSubmitResult(w io.Writer, res *requester.Result, meshOnly bool) {
	fmt.Fprintf(w, "Report %s\n", renderID(res.ID))
	switch {
	case res.Envelope != nil:
		fmt.Fprintf(w, "  mesh:  %s\n", okText("broadcast"))
	case res.MeshErr != nil:
		fmt.Fprintf(w, "  mesh:  %s (%v)\n", mutedText("unavailable"), res.MeshErr)
	default:
		fmt.Fprintf(w, "  mesh:  %s\n", mutedText("not running"))
	}
	switch {
	case meshOnly:
		fmt.Fprintf(w, "  store: %s\n", mutedText("skipped"))
	case res.StoreErr != nil:
		fmt.Fprintf(w, "  store: %s (%v)\n", mutedText("unreachable"), res.StoreErr)
	case res.Created:
		fmt.Fprintf(w, "  store: %s\n", okText("created"))
	default:
		fmt.Fprintf(w, "  store: %s\n", okText("already present"))
	}
}

func init() {
	requestCmd.Flags().StringP("message", "m", "", "what is needed (required)")
	requestCmd.Flags().StringP("location", "l", "", "where it is needed (required)")
	requestCmd.Flags().String("photo", "", "reference to an attached photo")
	requestCmd.Flags().String("audio", "", "reference to an attached voice note")
	requestCmd.Flags().String("id", "", "reuse an id when resubmitting a report")
	requestCmd.Flags().Bool("mesh-only", false, "broadcast on the mesh without posting to the store")
	_ = requestCmd.MarkFlagRequired("message")
	_ = requestCmd.MarkFlagRequired("location")
}
