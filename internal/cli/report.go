package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/tapmarket/internal/config"
	"github.com/rewired-gh/tapmarket/internal/models"
	"github.com/rewired-gh/tapmarket/internal/report"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Output string
	Since  time.Duration
	Upload bool
	S3     report.S3Config
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the end-of-night spreadsheet",
		Long: `Write the end-of-night spreadsheet: drinks with units sold and takings,
the sales ledger, and the price history of every drink.

S3 settings default to the report section of the configuration file and
TAPMARKET_REPORT_* environment variables.

Example:
  tapctl report --since 8h --upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default tapmarket-<time>.xlsx)")
	cmd.Flags().DurationVar(&opts.Since, "since", 12*time.Hour, "how far back to include sales")
	cmd.Flags().BoolVar(&opts.Upload, "upload", false, "also upload the report to S3")
	cmd.Flags().StringVar(&opts.S3.Bucket, "bucket", "", "S3 bucket")
	cmd.Flags().StringVar(&opts.S3.Region, "region", "", "S3 region")
	cmd.Flags().StringVar(&opts.S3.Endpoint, "endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().BoolVar(&opts.S3.PathStyle, "path-style", false, "use path-style S3 addressing")
	cmd.Flags().StringVar(&opts.S3.Prefix, "prefix", "reports", "S3 key prefix")

	return cmd
}

func runReport(cmd *cobra.Command, opts *ReportOptions) error {
	ctx := cmd.Context()
	now := time.Now()

	data, err := collect(cmd, opts, now)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, data); err != nil {
		return err
	}
	name := report.FileName(now)
	path := opts.Output
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	result := map[string]interface{}{"file": path, "drinks": len(data.Drinks), "sales": len(data.Sales)}
	if opts.Upload {
		s3cfg, err := opts.s3Config()
		if err != nil {
			return err
		}
		uploader, err := report.NewS3Uploader(ctx, s3cfg)
		if err != nil {
			return err
		}
		loc, err := uploader.Upload(ctx, name, buf.Bytes())
		if err != nil {
			return err
		}
		result["location"] = loc
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d drinks, %d sales)\n", path, len(data.Drinks), len(data.Sales))
	if loc, ok := result["location"]; ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded to %s\n", loc)
	}
	return nil
}

func collect(cmd *cobra.Command, opts *ReportOptions, now time.Time) (report.Data, error) {
	ctx := cmd.Context()
	drinks, err := opts.client.Drinks(ctx)
	if err != nil {
		return report.Data{}, err
	}
	sales, err := opts.client.Sales(ctx, now.Add(-opts.Since))
	if err != nil {
		return report.Data{}, err
	}
	history := make(map[int64][]models.PricePoint, len(drinks))
	for _, d := range drinks {
		points, err := opts.client.History(ctx, d.ID, 0)
		if err != nil {
			return report.Data{}, err
		}
		history[d.ID] = points
	}
	return report.Data{Drinks: drinks, Sales: sales, History: history, GeneratedAt: now}, nil
}

// s3Config fills unset flags from the configuration file and environment.
func (opts *ReportOptions) s3Config() (report.S3Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return report.S3Config{}, err
	}
	s3cfg := opts.S3
	if s3cfg.Bucket == "" {
		s3cfg.Bucket = cfg.Report.S3Bucket
	}
	if s3cfg.Region == "" {
		s3cfg.Region = cfg.Report.S3Region
	}
	if s3cfg.Endpoint == "" {
		s3cfg.Endpoint = cfg.Report.S3Endpoint
	}
	if !s3cfg.PathStyle {
		s3cfg.PathStyle = cfg.Report.S3PathStyle
	}
	if s3cfg.Bucket == "" {
		return report.S3Config{}, fmt.Errorf("no S3 bucket: pass --bucket or set report.s3_bucket")
	}
	return s3cfg, nil
}
