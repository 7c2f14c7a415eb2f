package dice

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/dicelink/pkg/connection"
)

// Advertisement blob sizes for a qualifying die.
const (
	// ManufacturerDataLen is the payload length after the company ID:
	// led count, design, roll state, face, battery status, one byte each.
	ManufacturerDataLen = 5
	// ServiceDataLen is the info-service blob: uint32 pixel ID plus
	// uint32 firmware build timestamp, little-endian.
	ServiceDataLen = 8
)

// ScanBattState is the battery charge state as advertised. The advertisement
// packs the battery into one byte, so only two states fit.
type ScanBattState uint8

const (
	ScanBatteryOk ScanBattState = iota
	ScanBatteryCharging
)

// AsBatteryState repackages into the full-message vocabulary. Due to data
// fidelity the result can only be BatteryOk or BatteryCharging.
func (s ScanBattState) AsBatteryState() BatteryState {
	if s == ScanBatteryCharging {
		return BatteryCharging
	}
	return BatteryOk
}

// ScanSummary is an immutable snapshot parsed from one advertisement
// sighting, before any connection exists.
type ScanSummary struct {
	// Address is the MAC address (UUID on macOS) of the die.
	Address string
	Name    string
	// LEDCount is the number of LEDs and faces.
	LEDCount       uint8
	DesignAndColor DesignAndColor
	RollState      RollStateKind
	// RollFace is the current face, starting at 0.
	RollFace  uint8
	BattState ScanBattState
	// BattLevel is the battery level as a percent.
	BattLevel uint8
	// PixelID is the factory-assigned unique die ID.
	PixelID uint32
	// BuildTimestamp is the firmware build date.
	BuildTimestamp time.Time
}

// ParseScanSummary decodes the advertisement's manufacturer-data payload and
// info-service data blob. The manufacturer payload excludes the company ID.
func ParseScanSummary(address, name string, mdata, sdata []byte) (ScanSummary, error) {
	if len(mdata) != ManufacturerDataLen {
		return ScanSummary{}, fmt.Errorf("manufacturer data is %d bytes, need %d", len(mdata), ManufacturerDataLen)
	}
	if len(sdata) != ServiceDataLen {
		return ScanSummary{}, fmt.Errorf("service data is %d bytes, need %d", len(sdata), ServiceDataLen)
	}

	s := ScanSummary{
		Address:        address,
		Name:           name,
		LEDCount:       mdata[0],
		DesignAndColor: DesignAndColor(mdata[1]),
		RollState:      RollStateKind(mdata[2]),
		RollFace:       mdata[3],
		BattState:      ScanBattState(mdata[4] >> 7),
		BattLevel:      mdata[4] & 0x7F,
		PixelID:        binary.LittleEndian.Uint32(sdata[0:4]),
		BuildTimestamp: time.Unix(int64(binary.LittleEndian.Uint32(sdata[4:8])), 0).UTC(),
	}

	if !s.DesignAndColor.Valid() {
		return ScanSummary{}, fmt.Errorf("invalid design value %d", mdata[1])
	}
	if !s.RollState.Valid() {
		return ScanSummary{}, fmt.Errorf("invalid roll state value %d", mdata[2])
	}
	return s, nil
}

// Kind returns the die flavor derived from the LED count.
func (s ScanSummary) Kind() DieKind { return KindFromLEDCount(s.LEDCount) }

// FaceCount returns the total number of faces.
func (s ScanSummary) FaceCount() int { return s.Kind().FaceCount() }

// ToRollState repackages the rolling information.
func (s ScanSummary) ToRollState() RollState {
	return RollState{State: s.RollState, Face: s.RollFace}
}

// ToBatteryLevel repackages the battery information.
func (s ScanSummary) ToBatteryLevel() BatteryLevel {
	return BatteryLevel{Level: s.BattLevel, State: s.BattState.AsBatteryState()}
}

// Hydrate constructs the full Die facade for this summary, backed by a live
// BLE transport. One summary produces one independent facade.
func (s ScanSummary) Hydrate(logger *logrus.Logger) *Die {
	return NewDie(s, connection.New(s.Address, logger), logger)
}
