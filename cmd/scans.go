package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/export"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/store"
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List scan history",
	Long:  "Lists stored scans, newest first. Subcommands show a single scan, summarize history, or export it to a spreadsheet.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := scanFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scans, err := st.ListScans(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "scans list")
		}

		switch format {
		case "table":
			if len(scans) == 0 {
				fmt.Fprintln(os.Stderr, "No scans found.")
				return nil
			}
			formatScansTable(os.Stdout, scans)
			return nil
		case "json":
			return writeIndentedJSON(os.Stdout, scans)
		default:
			return eris.Errorf("unknown format %q (json, table)", format)
		}
	},
}

// -- scans show --

var scansShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show the full record of a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sc, err := st.GetScan(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "scans show")
		}
		return writeIndentedJSON(os.Stdout, sc)
	},
}

// -- scans stats --

var scansStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate scan statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := scanFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		filter.Limit = 10000

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scans, err := st.ListScans(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "scans stats")
		}

		formatScanStats(os.Stdout, computeScanStats(scans))
		return nil
	},
}

// -- scans export --

var scansExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export scan history to an xlsx spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := scanFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scans, err := st.ListScans(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "scans export")
		}
		if err := export.WriteScansXLSX(out, scans); err != nil {
			return err
		}

		zap.L().Info("exported scans", zap.String("path", out), zap.Int("count", len(scans)))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{scansCmd, scansStatsCmd, scansExportCmd} {
		c.Flags().String("pet", "", "filter by pet id")
		c.Flags().String("status", "", "filter by scan status (pending, processing, analyzing, completed, failed, cancelled)")
		c.Flags().Int("limit", 50, "max number of scans")
		c.Flags().Int("offset", 0, "number of scans to skip")
	}
	scansCmd.Flags().String("format", "json", "output format (json, table)")
	scansExportCmd.Flags().String("out", "scans.xlsx", "output file")

	scansCmd.AddCommand(scansShowCmd)
	scansCmd.AddCommand(scansStatsCmd)
	scansCmd.AddCommand(scansExportCmd)
	rootCmd.AddCommand(scansCmd)
}

// scanFilterFromFlags reads the shared filter flags of the scans commands.
func scanFilterFromFlags(cmd *cobra.Command) (store.ScanFilter, error) {
	pet, _ := cmd.Flags().GetString("pet")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	filter := store.ScanFilter{
		PetID:  pet,
		Status: model.ScanStatus(status),
		Limit:  limit,
		Offset: offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, eris.Errorf("unknown status %q", status)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return filter, eris.New("limit and offset must not be negative")
	}
	return filter, nil
}

// scanStats holds aggregate statistics computed from a set of scans.
type scanStats struct {
	Total      int
	Completed  int
	Failed     int
	Cancelled  int
	InFlight   int
	BySafety   map[model.SafetyLevel]int
	AvgDurSecs float64
}

// computeScanStats computes aggregate statistics from a list of scans.
func computeScanStats(scans []model.Scan) scanStats {
	s := scanStats{Total: len(scans), BySafety: make(map[model.SafetyLevel]int)}

	var totalDur time.Duration
	var durCount int

	for _, sc := range scans {
		switch sc.Status {
		case model.ScanStatusCompleted:
			s.Completed++
			if sc.Result != nil {
				s.BySafety[sc.Result.OverallSafety]++
			}
			totalDur += sc.UpdatedAt.Sub(sc.CreatedAt)
			durCount++
		case model.ScanStatusFailed:
			s.Failed++
		case model.ScanStatusCancelled:
			s.Cancelled++
		default:
			s.InFlight++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatScansTable writes a tabular list of scans to out.
func formatScansTable(out io.Writer, scans []model.Scan) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPET\tSTATUS\tSAFETY\tPRODUCT\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t------\t-------\t-------")

	for _, sc := range scans {
		safety, product := "", ""
		if sc.Result != nil {
			safety = string(sc.Result.OverallSafety)
			product = sc.Result.ProductName
		}
		if len(product) > 30 {
			product = product[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(sc.ID),
			sc.PetID,
			sc.Status,
			safety,
			product,
			sc.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatScanStats writes aggregate stats to out.
func formatScanStats(out io.Writer, s scanStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total scans:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	for _, level := range []model.SafetyLevel{model.SafetySafe, model.SafetyCaution, model.SafetyUnsafe, model.SafetyUnknown} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", level, s.BySafety[level])
	}
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.Cancelled)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeIndentedJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
