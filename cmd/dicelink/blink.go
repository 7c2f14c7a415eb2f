package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/dicelink/pkg/dice"
)

var blinkCmd = &cobra.Command{
	Use:   "blink [die]",
	Short: "Flash a die's LEDs",
	Long: `Connect to a die and run a blink animation. With --count 0 the die
blinks forever; press Ctrl+C or run 'dicelink blink --stop' to end it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBlink,
}

var (
	blinkColor    string
	blinkCount    int
	blinkDuration time.Duration
	blinkFade     uint8
	blinkMask     uint32
	blinkStop     bool
)

func init() {
	blinkCmd.Flags().StringVarP(&blinkColor, "color", "c", "0000ff", "Blink color as RRGGBB hex")
	blinkCmd.Flags().IntVarP(&blinkCount, "count", "n", 3, "Number of blinks (0 blinks forever)")
	blinkCmd.Flags().DurationVarP(&blinkDuration, "duration", "d", time.Second, "Length of each on-off loop")
	blinkCmd.Flags().Uint8Var(&blinkFade, "fade", 128, "Fade sharpness (0 sharp, 255 smooth)")
	blinkCmd.Flags().Uint32Var(&blinkMask, "mask", 0, "LED selection bitmask (0 selects all)")
	blinkCmd.Flags().BoolVar(&blinkStop, "stop", false, "Stop all running animations instead of blinking")
}

func runBlink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	colorVal, err := parseHexColor(blinkColor)
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

	return die.WithReconnect(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		if blinkStop {
			if err := die.StopAllAnimations(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped animations on %s\n", die.Name())
			return nil
		}

		count := blinkCount
		if count == 0 {
			count = dice.BlinkForever
		}

		err := die.Blink(opCtx, dice.BlinkOptions{
			Color:    colorVal,
			Count:    count,
			Duration: blinkDuration,
			Fade:     blinkFade,
			LEDMask:  blinkMask,
		})
		if err != nil {
			return err
		}

		if count == dice.BlinkForever {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is blinking; press Ctrl+C to stop\n", die.Name())
			<-ctx.Done()
			return die.StopAllAnimations()
		}

		// Stay connected while the animation plays out.
		wait := time.Duration(count) * blinkDuration
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		return nil
	})
}

func parseHexColor(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "#"), "0x")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid color %q (want RRGGBB hex)", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q (want RRGGBB hex)", s)
	}
	return uint32(v), nil
}
