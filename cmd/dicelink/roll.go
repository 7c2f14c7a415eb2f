package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/dicelink/pkg/dice"
)

var rollCmd = &cobra.Command{
	Use:   "roll [die]",
	Short: "Stream roll results from a die",
	Long: `Connect to a die and print every roll as it lands. The die may be
named by its display name, hex pixel ID, or address; with no argument the
first die sighted is used.

Streaming continues until interrupted. Unexpected disconnects trigger an
automatic reconnect.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRoll,
}

var rollShowState bool

func init() {
	rollCmd.Flags().BoolVarP(&rollShowState, "verbose-state", "s", false, "Print handling and rolling transitions, not just landed rolls")
}

func runRoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	target := ""
	if len(args) == 1 {
		target = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	sum, err := findDie(scanCtx, logger, target)
	cancel()
	if err != nil {
		return err
	}

	die := sum.Hydrate(logger)
	out := cmd.OutOrStdout()

	return die.WithReconnect(ctx, func(ctx context.Context) error {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		info, err := die.WhoAreYou(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("querying die info: %w", err)
		}

		fmt.Fprintf(out, "Connected to %s (%s, firmware %s, battery %d%%)\n",
			color.CyanString(die.Name()),
			die.Kind(),
			info.BuildTimestamp.Format("2006-01-02"),
			info.BattLevel)

		rollSub := die.OnRollState(func(rs dice.RollState) {
			printRoll(out, die, rs)
		})
		defer rollSub.Cancel()

		notifySub := die.OnNotifyUser(func(req dice.NotifyRequest) {
			promptNotify(out, req)
		})
		defer notifySub.Cancel()

		<-ctx.Done()
		return nil
	})
}

func printRoll(out io.Writer, die *dice.Die, rs dice.RollState) {
	stamp := time.Now().Format("15:04:05")
	switch rs.State {
	case dice.RollOnFace:
		fmt.Fprintf(out, "%s  %s rolled %s\n",
			stamp, die.Name(), color.New(color.FgGreen, color.Bold).Sprintf("%d", rs.Face+1))
	case dice.RollRolling, dice.RollHandling:
		if rollShowState {
			fmt.Fprintf(out, "%s  %s %s\n", stamp, die.Name(), rs.State)
		}
	default:
		if rollShowState {
			fmt.Fprintf(out, "%s  %s %s (face %d)\n", stamp, die.Name(), rs.State, rs.Face+1)
		}
	}
}
