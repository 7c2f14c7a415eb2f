package dice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScanSummary(t *testing.T) {
	t.Run("decodes a real advertisement", func(t *testing.T) {
		mdata := []byte{0x14, 0x0B, 0x01, 0x0A, 0x48}
		sdata := []byte{0x5A, 0x8A, 0xF0, 0x06, 0x17, 0x87, 0x88, 0x64}

		sum, err := ParseScanSummary("AA:BB:CC:DD:EE:FF", "Pebble", mdata, sdata)
		require.NoError(t, err)

		assert.Equal(t, "AA:BB:CC:DD:EE:FF", sum.Address)
		assert.Equal(t, "Pebble", sum.Name)
		assert.Equal(t, uint8(20), sum.LEDCount)
		assert.Equal(t, KindD20, sum.Kind())
		assert.Equal(t, 20, sum.FaceCount())
		assert.Equal(t, DesignMidnightGalaxy, sum.DesignAndColor)
		assert.Equal(t, RollOnFace, sum.RollState)
		assert.Equal(t, uint8(10), sum.RollFace)
		assert.Equal(t, ScanBatteryOk, sum.BattState)
		assert.Equal(t, uint8(72), sum.BattLevel)
		assert.Equal(t, uint32(0x06F08A5A), sum.PixelID)
		assert.Equal(t, time.Unix(0x64888717, 0).UTC(), sum.BuildTimestamp)
	})

	t.Run("high battery bit means charging", func(t *testing.T) {
		mdata := []byte{0x14, 0x0B, 0x01, 0x0A, 0xC8}
		sdata := make([]byte, ServiceDataLen)

		sum, err := ParseScanSummary("addr", "die", mdata, sdata)
		require.NoError(t, err)
		assert.Equal(t, ScanBatteryCharging, sum.BattState)
		assert.Equal(t, uint8(72), sum.BattLevel)
	})

	t.Run("rejects wrong manufacturer data length", func(t *testing.T) {
		_, err := ParseScanSummary("addr", "die", []byte{1, 2, 3}, make([]byte, ServiceDataLen))
		assert.Error(t, err)
	})

	t.Run("rejects wrong service data length", func(t *testing.T) {
		_, err := ParseScanSummary("addr", "die", make([]byte, ManufacturerDataLen), []byte{1, 2})
		assert.Error(t, err)
	})

	t.Run("rejects invalid design", func(t *testing.T) {
		mdata := []byte{0x14, 0xEE, 0x01, 0x0A, 0x48}
		_, err := ParseScanSummary("addr", "die", mdata, make([]byte, ServiceDataLen))
		assert.ErrorContains(t, err, "design")
	})

	t.Run("rejects invalid roll state", func(t *testing.T) {
		mdata := []byte{0x14, 0x0B, 0x09, 0x0A, 0x48}
		_, err := ParseScanSummary("addr", "die", mdata, make([]byte, ServiceDataLen))
		assert.ErrorContains(t, err, "roll state")
	})
}

func TestScanSummary_Conversions(t *testing.T) {
	sum := ScanSummary{
		RollState: RollHandling,
		RollFace:  3,
		BattState: ScanBatteryCharging,
		BattLevel: 41,
	}

	assert.Equal(t, RollState{State: RollHandling, Face: 3}, sum.ToRollState())
	assert.Equal(t, BatteryLevel{Level: 41, State: BatteryCharging}, sum.ToBatteryLevel())
}

func TestScanBattState_AsBatteryState(t *testing.T) {
	assert.Equal(t, BatteryOk, ScanBatteryOk.AsBatteryState())
	assert.Equal(t, BatteryCharging, ScanBatteryCharging.AsBatteryState())
}

func TestKindFromLEDCount(t *testing.T) {
	tests := []struct {
		leds  uint8
		kind  DieKind
		faces int
	}{
		{4, KindD4, 4},
		{6, KindD6, 6},
		{8, KindD8, 8},
		{10, KindD10, 10},
		{12, KindD12, 12},
		{20, KindD20, 20},
		{21, KindD6Pipped, 6},
		{0, KindUnknown, 0},
		{42, KindUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			kind := KindFromLEDCount(tt.leds)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.faces, kind.FaceCount())
		})
	}
}

func TestProtocolTable(t *testing.T) {
	r := Registry()

	// Spot-check the operation pairs the client depends on.
	ids := map[uint8]any{
		1:  WhoAreYou{},
		2:  IAmADie{},
		3:  RollState{},
		29: Blink{},
		30: BlinkAck{},
		34: BatteryLevel{},
		39: NotifyUser{},
		51: SetName{},
		59: StopAllAnimations{},
		65: BlinkId{},
	}
	for want, msg := range ids {
		id, ok := r.IDOf(msg)
		require.True(t, ok, "%T not registered", msg)
		assert.Equal(t, want, uint8(id), "%T", msg)
	}
}

func TestMessages_RoundTrip(t *testing.T) {
	msgs := []any{
		WhoAreYou{},
		RollState{State: RollRolling, Face: 17},
		DebugLog{Text: "accel fault on axis 2"},
		PlayAnimation{Animation: 3, RemapFace: 19, Loop: 1},
		StopAnimation{Animation: 3, RemapFace: 19},
		RemoteAction{ActionID: 0x0102},
		Blink{Count: 3, Duration: 1500, Color: 0x00FF00, FaceMask: 0xFFFFFFFF, Fade: 200, Loop: 0},
		BatteryLevel{Level: 99, State: BatteryDone},
		RequestRssi{RequestMode: RequestModeRepeat, MinInterval: 5000},
		Rssi{Rssi: -71},
		CalibrateFace{Face: 19},
		NotifyUser{Timeout: 10, Ok: true, Cancel: false, Text: "Move me"},
		NotifyUserAck{Answer: AnswerCancel},
		SetName{Name: "Galaxy"},
		Temperature{MCUTemp: -50, BattTemp: 3000},
		BlinkId{Brightness: 255, Loop: 1},
	}

	for _, msg := range msgs {
		blob, err := Registry().Encode(msg)
		require.NoError(t, err, "%T", msg)

		got, err := Registry().Decode(blob)
		require.NoError(t, err, "%T", msg)
		assert.Equal(t, msg, got)
	}
}

func TestIAmADie_WireShape(t *testing.T) {
	msg := IAmADie{
		LEDCount:       20,
		DesignAndColor: DesignMidnightGalaxy,
		DataSetHash:    0x12345678,
		PixelID:        0x06F08A5A,
		AvailableFlash: 0x0400,
		BuildTimestamp: time.Unix(0x64888717, 0).UTC(),
		RollState:      RollOnFace,
		RollFace:       9,
		BattLevel:      72,
		BattState:      BatteryOk,
	}

	blob, err := Registry().Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02,
		0x14, 0x0B, 0x00,
		0x78, 0x56, 0x34, 0x12,
		0x5A, 0x8A, 0xF0, 0x06,
		0x00, 0x04,
		0x17, 0x87, 0x88, 0x64,
		0x01, 0x09, 0x48, 0x00,
	}, blob)

	got, err := Registry().Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestTelemetry_WireShape(t *testing.T) {
	payload := make([]byte, 62)
	payload[50] = 64                // battery percent
	payload[51] = byte(BatteryLow)  // battery state
	payload[52] = 150               // voltage, 3.0 V
	payload[54] = 0xC2              // rssi -62
	payload[56], payload[57] = 0x66, 0x08 // mcu temp 21.5 C
	blob := append([]byte{0x04}, payload...)

	got, err := Registry().Decode(blob)
	require.NoError(t, err)

	tel := got.(Telemetry)
	assert.Equal(t, uint8(64), tel.BatteryPercent)
	assert.Equal(t, BatteryLow, tel.BatteryState)
	assert.Equal(t, uint8(150), tel.Voltage)
	assert.Equal(t, int8(-62), tel.Rssi)
	assert.Equal(t, int16(2150), tel.MCUTemp)
}
