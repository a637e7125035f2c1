package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/miyah/internal/client"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store/memory"
	reportsync "github.com/alfredjeanlab/miyah/internal/sync"
)

var reportsCmd = &cobra.Command{
	Use:     "reports",
	Short:   "Manage reports in the report store",
	GroupID: "reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := reportsClient.ListReports(context.Background())
		if err != nil {
			return fmt.Errorf("listing reports: %w", err)
		}
		if jsonOutput {
			return printJSON(reports)
		}
		printReportTable(stdout, reports)
		fmt.Fprintf(stdout, "\n%d reports\n", len(reports))
		return nil
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := reportsClient.GetReport(context.Background(), args[0])
		if client.IsNotFound(err) {
			return fmt.Errorf("report %s not found", args[0])
		}
		if err != nil {
			return fmt.Errorf("getting report: %w", err)
		}
		if jsonOutput {
			return printJSON(r)
		}
		printReportDetail(stdout, r)
		return nil
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete reports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, id := range args {
			err := reportsClient.DeleteReport(context.Background(), id)
			switch {
			case client.IsNotFound(err):
				fmt.Fprintf(os.Stderr, "%s: not found\n", id)
				failed++
			case err != nil:
				fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
				failed++
			default:
				fmt.Fprintf(stdout, "Deleted %s\n", renderID(id))
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deletes failed", failed, len(args))
		}
		return nil
	},
}

var reportsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every report as JSONL to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportsync.ExportJSONL(context.Background(), reportsClient, stdout)
	},
}

var reportsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Submit every report of a JSONL export to the store",
	Long: `Submit every report of a JSONL export (as written by "reports export" or
the sync scheduler) to the report store. Reports whose id the store already
holds are left unchanged. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		ctx := context.Background()
		staged := memory.New()
		if _, err := reportsync.ImportJSONL(ctx, staged, in); err != nil {
			return err
		}
		reports, err := staged.ListReports(ctx)
		if err != nil {
			return err
		}

		var created, existing int
		for _, r := range reports {
			resp, err := reportsClient.CreateReport(ctx, requestFromReport(r))
			if err != nil {
				return fmt.Errorf("submitting %s: %w", r.ID, err)
			}
			if resp.Created {
				created++
			} else {
				existing++
			}
		}
		fmt.Fprintf(stdout, "Imported %d reports (%d already present)\n", created, existing)
		return nil
	},
}

// requestFromReport builds the create request that recreates r in a store.
// The verified flag is display state and is not carried.
func requestFromReport(r model.Report) *client.CreateReportRequest {
	req := &client.CreateReportRequest{
		ID:       r.ID,
		Category: r.Category,
		Type:     string(r.Type),
		Message:  r.Message,
		Location: r.Location,
		PhotoRef: r.PhotoRef,
		AudioRef: r.AudioRef,
		Urgency:  r.Urgency,
	}
	if !r.Timestamp.IsZero() {
		req.Timestamp = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return req
}

func init() {
	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
	reportsCmd.AddCommand(reportsExportCmd)
	reportsCmd.AddCommand(reportsImportCmd)
}
