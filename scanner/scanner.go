// Package scanner discovers dice from BLE advertisements and produces
// ScanSummary snapshots, one per qualifying sighting.
package scanner

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/dicelink/internal/groutine"
	"github.com/srg/dicelink/internal/ringchan"
	"github.com/srg/dicelink/pkg/connection"
	"github.com/srg/dicelink/pkg/dice"
)

// manufacturerID is the company identifier dice advertise under.
// 0xFFFF is the reserved test ID.
const manufacturerID = 0xFFFF

// streamBuffer is how many summaries may queue before the oldest sighting
// is dropped.
const streamBuffer = 64

// DeviceFactory creates BLE device instances (can be overridden in tests).
var DeviceFactory = func() (blelib.Device, error) {
	return darwin.NewDevice()
}

// Source delivers raw advertisements for as long as ctx is live.
type Source interface {
	Scan(ctx context.Context, allowDuplicates bool, h func(blelib.Advertisement)) error
}

type bleSource struct{}

func (bleSource) Scan(ctx context.Context, allowDuplicates bool, h func(blelib.Advertisement)) error {
	dev, err := DeviceFactory()
	if err != nil {
		return err
	}
	return dev.Scan(ctx, allowDuplicates, h)
}

// Scanner filters advertisements for dice and parses their compact summary
// records.
type Scanner struct {
	source Source
	logger *logrus.Logger
	seen   *hashmap.Map[string, dice.ScanSummary]
}

// New creates a scanner backed by the platform BLE stack.
func New(logger *logrus.Logger) *Scanner {
	return NewWithSource(bleSource{}, logger)
}

// NewWithSource creates a scanner over a custom advertisement source.
func NewWithSource(source Source, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		source: source,
		logger: logger,
		seen:   hashmap.New[string, dice.ScanSummary](),
	}
}

// Scan streams summaries, one per qualifying advertisement sighting, for as
// long as ctx is live. Each call starts a fresh scan; cancelling ctx stops
// the underlying BLE scan and closes the returned channel. When the consumer
// lags, the oldest buffered sighting is dropped.
func (s *Scanner) Scan(ctx context.Context) <-chan dice.ScanSummary {
	s.seen = hashmap.New[string, dice.ScanSummary]()
	out := ringchan.New[dice.ScanSummary](streamBuffer)

	s.logger.Info("Starting dice scan...")
	groutine.Go(ctx, "dice-scan", func(ctx context.Context) {
		defer out.Close()
		err := s.source.Scan(ctx, true, func(adv blelib.Advertisement) {
			s.handleAdvertisement(adv, out)
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithError(err).Error("Dice scan failed")
		}
		s.logger.WithField("dice_count", s.seen.Len()).Info("Dice scan stopped")
	})

	return out.C()
}

// Summaries returns the latest summary seen per die address during the
// current scan.
func (s *Scanner) Summaries() map[string]dice.ScanSummary {
	result := make(map[string]dice.ScanSummary, s.seen.Len())
	s.seen.Range(func(addr string, sum dice.ScanSummary) bool {
		result[addr] = sum
		return true
	})
	return result
}

func (s *Scanner) handleAdvertisement(adv blelib.Advertisement, out *ringchan.RingChannel[dice.ScanSummary]) {
	sum, ok := s.summaryFrom(adv)
	if !ok {
		return
	}

	if _, known := s.seen.Get(sum.Address); !known {
		s.logger.WithFields(logrus.Fields{
			"name":     sum.Name,
			"address":  sum.Address,
			"pixel_id": sum.PixelID,
			"kind":     sum.Kind().String(),
		}).Info("Discovered die")
	}
	s.seen.Set(sum.Address, sum)

	if out.ForceSend(sum) {
		s.logger.Debug("Summary stream full, dropped oldest sighting")
	}
}

// summaryFrom triages one advertisement. Only advertisements carrying both
// the dice manufacturer data and the info-service data blob qualify;
// everything else is silently ignored.
func (s *Scanner) summaryFrom(adv blelib.Advertisement) (dice.ScanSummary, bool) {
	md := adv.ManufacturerData()
	if len(md) != 2+dice.ManufacturerDataLen || binary.LittleEndian.Uint16(md) != manufacturerID {
		return dice.ScanSummary{}, false
	}

	var sdata []byte
	for _, sd := range adv.ServiceData() {
		if sd.UUID.Equal(connection.InfoServiceUUID) {
			sdata = sd.Data
			break
		}
	}
	if len(sdata) == 0 {
		return dice.ScanSummary{}, false
	}

	sum, err := dice.ParseScanSummary(adv.Addr().String(), adv.LocalName(), md[2:], sdata)
	if err != nil {
		s.logger.WithError(err).WithField("address", adv.Addr().String()).
			Debug("Ignoring malformed die advertisement")
		return dice.ScanSummary{}, false
	}
	return sum, true
}
