package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/dicelink/pkg/dice"
	"github.com/srg/dicelink/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for dice",
	Long: `Scan for Pixels dice in the vicinity and display their advertisement
summaries: die kind, current face, battery, unique ID and firmware build date.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanWatch    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses the configured scan_timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print every sighting as it arrives instead of a final table")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	duration := scanDuration
	if duration == 0 {
		duration = cfg.ScanTimeout
	}
	format := scanFormat
	if format == "" {
		format = cfg.OutputFormat
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	sc := scanner.New(logger)
	stream := sc.Scan(ctx)

	if scanWatch {
		for sum := range stream {
			printSighting(cmd.OutOrStdout(), sum)
		}
		return nil
	}

	// Drain the stream so the per-address map stays fresh.
	for range stream {
	}

	summaries := make([]dice.ScanSummary, 0)
	for _, sum := range sc.Summaries() {
		summaries = append(summaries, sum)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].PixelID < summaries[j].PixelID })

	switch format {
	case "json":
		return writeSummariesJSON(cmd.OutOrStdout(), summaries)
	default:
		writeSummariesTable(cmd.OutOrStdout(), summaries)
		return nil
	}
}

func printSighting(w io.Writer, sum dice.ScanSummary) {
	fmt.Fprintf(w, "%s  %s  face %s  batt %s\n",
		color.CyanString("%-12s", sum.Name),
		sum.Kind(),
		color.GreenString("%d", sum.RollFace+1),
		formatBattery(sum))
}

func writeSummariesTable(w io.Writer, summaries []dice.ScanSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tID\tSTATE\tFACE\tBATTERY\tFIRMWARE\tADDRESS")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%08x\t%s\t%d\t%s\t%s\t%s\n",
			color.CyanString(s.Name),
			s.Kind(),
			s.PixelID,
			s.RollState,
			s.RollFace+1,
			formatBattery(s),
			s.BuildTimestamp.Format("2006-01-02"),
			s.Address)
	}
	tw.Flush()
}

func formatBattery(s dice.ScanSummary) string {
	if s.BattState == dice.ScanBatteryCharging {
		return fmt.Sprintf("%d%%+", s.BattLevel)
	}
	return fmt.Sprintf("%d%%", s.BattLevel)
}

type summaryJSON struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	PixelID   uint32 `json:"pixel_id"`
	RollState string `json:"roll_state"`
	Face      uint8  `json:"face"`
	Battery   uint8  `json:"battery_percent"`
	Charging  bool   `json:"charging"`
	Firmware  string `json:"firmware_build"`
	Address   string `json:"address"`
}

func writeSummariesJSON(w io.Writer, summaries []dice.ScanSummary) error {
	rows := make([]summaryJSON, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, summaryJSON{
			Name:      s.Name,
			Kind:      s.Kind().String(),
			PixelID:   s.PixelID,
			RollState: s.RollState.String(),
			Face:      s.RollFace + 1,
			Battery:   s.BattLevel,
			Charging:  s.BattState == dice.ScanBatteryCharging,
			Firmware:  s.BuildTimestamp.Format(time.RFC3339),
			Address:   s.Address,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
