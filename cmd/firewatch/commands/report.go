package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/firewatch/internal/logger"
	"github.com/rewired-gh/firewatch/internal/report"
)

const formatText = "text"

var reportFlags struct {
	period string
	from   string
	to     string
	format string
	output string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build a history report",
	Long: `Builds a report over the configured history source.

The text format prints a summary. The json and xlsx formats write an export
file, named fire-detection-report-YYYY-MM-DD.<ext> unless --output is given
(- writes to stdout).`,
	Example: `  firewatch report --period monthly
  firewatch report --from 2026-10-01 --to 2026-10-07 --format xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		format := strings.ToLower(reportFlags.format)
		switch format {
		case formatText, report.FormatJSON, report.FormatXLSX:
		default:
			return fmt.Errorf("unknown format %q (want text, json or xlsx)", reportFlags.format)
		}

		period, err := report.ParsePeriod(reportFlags.period)
		if err != nil {
			return err
		}
		rng, err := report.ParseRange(reportFlags.from, reportFlags.to, period, time.Now())
		if err != nil {
			return err
		}

		classifier, err := cfg.Classifier()
		if err != nil {
			return err
		}
		src, err := openSources(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer src.Close()

		svc := report.NewService(src.history, classifier, logger.L())
		rep := svc.Build(cmd.Context(), period, rng)

		if format == formatText {
			printReport(cmd.OutOrStdout(), rep)
			return nil
		}
		return writeExport(cmd.OutOrStdout(), rep, format, reportFlags.output)
	},
}

func init() {
	f := reportCmd.Flags()
	f.StringVarP(&reportFlags.period, "period", "p", string(report.DefaultPeriod), "Look-back period: daily, weekly or monthly")
	f.StringVar(&reportFlags.from, "from", "", "Start date (YYYY-MM-DD)")
	f.StringVar(&reportFlags.to, "to", "", "End date (YYYY-MM-DD), defaults to today")
	f.StringVarP(&reportFlags.format, "format", "f", formatText, "Output format: text, json or xlsx")
	f.StringVarP(&reportFlags.output, "output", "o", "", "Output file for json and xlsx exports")
}

func writeExport(stdout io.Writer, rep report.Report, format, output string) error {
	var (
		data []byte
		err  error
	)
	if format == report.FormatXLSX {
		data, err = report.ExportXLSX(rep)
	} else {
		data, err = report.ExportJSON(rep)
	}
	if err != nil {
		return err
	}

	if output == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if output == "" {
		output = report.FileName(rep.GeneratedAt, format)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(stdout, "Wrote %s (%d readings, %d alerts)\n", output, len(rep.Readings), len(rep.Alerts))
	return nil
}

func printReport(w io.Writer, rep report.Report) {
	s := rep.Statistics
	fmt.Fprintf(w, "Fire detection report (%s)\n", rep.Period)
	fmt.Fprintf(w, "  Date range:       %s\n", rep.Range.Label())
	fmt.Fprintf(w, "  Total readings:   %d\n", s.TotalReadings)
	fmt.Fprintf(w, "  Avg temperature:  %.2f °C\n", s.AvgTemperature)
	fmt.Fprintf(w, "  Avg humidity:     %.2f %%\n", s.AvgHumidity)
	fmt.Fprintf(w, "  Risk detections:  %d\n", s.RiskDetections)
	fmt.Fprintf(w, "  Alerts generated: %d\n", s.AlertsGenerated)
	fmt.Fprintf(w, "  Distribution:     safe %d, warning %d, danger %d\n",
		rep.Distribution.Safe, rep.Distribution.Warning, rep.Distribution.Danger)

	if len(rep.RecentAlerts) > 0 {
		fmt.Fprintln(w, "Recent alerts:")
		for _, a := range rep.RecentAlerts {
			fmt.Fprintf(w, "  %s  %-8s %-22s %s\n", a.CreatedAt.Format(report.ChartLabelLayout), a.Severity, a.AlertType, a.Message)
		}
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "Warning: %s\n", e)
	}
}
