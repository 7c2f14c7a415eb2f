package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <die> <new-name>",
	Short: "Change a die's display name",
	Long: `Connect to a die and set its display name. The new name shows up in
later advertisements, so scans pick it up after the die reboots or readvertises.`,
	Args: cobra.ExactArgs(2),
	RunE: runRename,
}

func runRename(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	target, newName := args[0], args[1]
	if newName == "" {
		return fmt.Errorf("new name must not be empty")
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

	return die.WithReconnect(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		oldName := die.Name()
		if err := die.SetName(opCtx, newName); err != nil {
			return fmt.Errorf("renaming die: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n",
			color.CyanString(oldName), color.CyanString(newName))
		return nil
	})
}
