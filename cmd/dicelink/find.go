package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/dicelink/pkg/dice"
	"github.com/srg/dicelink/scanner"
)

// findDie scans until one advertisement matches target, which may be a die
// name (case-insensitive), a hex pixel ID, or a transport address. An empty
// target matches the first die sighted.
func findDie(ctx context.Context, logger *logrus.Logger, target string) (dice.ScanSummary, error) {
	var wantID uint64
	var haveID bool
	if id, err := strconv.ParseUint(strings.TrimPrefix(target, "0x"), 16, 32); err == nil && target != "" {
		wantID, haveID = id, true
	}

	matches := func(s dice.ScanSummary) bool {
		if target == "" {
			return true
		}
		if strings.EqualFold(s.Name, target) || strings.EqualFold(s.Address, target) {
			return true
		}
		return haveID && uint64(s.PixelID) == wantID
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for sum := range scanner.New(logger).Scan(ctx) {
		if matches(sum) {
			return sum, nil
		}
	}

	if err := ctx.Err(); err != nil && err != context.DeadlineExceeded {
		return dice.ScanSummary{}, err
	}
	return dice.ScanSummary{}, ErrDieNotFound
}
