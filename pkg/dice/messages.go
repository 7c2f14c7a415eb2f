// Package dice implements the Pixels dice protocol: the concrete wire
// messages, the per-die facade, and advertisement summaries.
package dice

import (
	"fmt"
	"time"

	"github.com/srg/dicelink/pkg/message"
)

// RollStateKind describes the current motion of the die.
type RollStateKind uint8

const (
	RollUnknown RollStateKind = iota
	// RollOnFace means the die is sitting flat and is not moving.
	RollOnFace
	// RollHandling means the die is in hand.
	RollHandling
	// RollRolling means the die is actively rolling.
	RollRolling
	// RollCrooked means the die is still but not flat and level.
	RollCrooked
)

func (k RollStateKind) Valid() bool { return k <= RollCrooked }

func (k RollStateKind) String() string {
	switch k {
	case RollUnknown:
		return "unknown"
	case RollOnFace:
		return "on-face"
	case RollHandling:
		return "handling"
	case RollRolling:
		return "rolling"
	case RollCrooked:
		return "crooked"
	default:
		return fmt.Sprintf("RollStateKind(%d)", uint8(k))
	}
}

// BatteryState describes the charge state of the battery.
type BatteryState uint8

const (
	// BatteryOk means the battery is discharging normally.
	BatteryOk BatteryState = iota
	// BatteryLow means the user should recharge.
	BatteryLow
	BatteryCharging
	// BatteryDone means the battery is full and on the cradle.
	BatteryDone
	// BatteryBadCharging means charging was attempted but failed, for
	// example from sitting crooked on the coil.
	BatteryBadCharging
	BatteryError
)

func (s BatteryState) Valid() bool { return s <= BatteryError }

func (s BatteryState) String() string {
	switch s {
	case BatteryOk:
		return "ok"
	case BatteryLow:
		return "low"
	case BatteryCharging:
		return "charging"
	case BatteryDone:
		return "done"
	case BatteryBadCharging:
		return "bad-charging"
	case BatteryError:
		return "error"
	default:
		return fmt.Sprintf("BatteryState(%d)", uint8(s))
	}
}

// DesignAndColor identifies the aesthetic design of the die.
type DesignAndColor uint8

const (
	DesignUnknown DesignAndColor = iota
	DesignGeneric
	DesignV3Orange
	DesignV4BlackClear
	DesignV4WhiteClear
	DesignV5Grey
	DesignV5White
	DesignV5Black
	DesignV5Gold
	DesignOnyxBlack
	DesignHematiteGrey
	DesignMidnightGalaxy
	DesignAuroraSky
)

func (d DesignAndColor) Valid() bool { return d <= DesignAuroraSky }

// RequestMode selects how often a repeating report should be sent.
type RequestMode uint8

const (
	// RequestModeOff turns repeating reports off.
	RequestModeOff RequestMode = iota
	// RequestModeOnce asks for a single report.
	RequestModeOnce
	// RequestModeRepeat asks for reports until turned off.
	RequestModeRepeat
)

func (m RequestMode) Valid() bool { return m <= RequestModeRepeat }

// OkCancel is the user's answer to a NotifyUser prompt.
type OkCancel uint8

const (
	AnswerCancel OkCancel = iota
	AnswerOk
)

func (a OkCancel) Valid() bool { return a <= AnswerOk }

// DieKind is the flavor of die, like a D20 or a pipped D6.
type DieKind uint8

const (
	KindUnknown DieKind = iota
	KindD4
	KindD6
	KindD6Pipped
	KindD6Fudge
	KindD8
	KindD10
	KindD12
	KindD20
)

// KindFromLEDCount maps the advertised LED count to the die flavor.
// A pipped D6 carries 21 LEDs.
func KindFromLEDCount(leds uint8) DieKind {
	switch leds {
	case 4:
		return KindD4
	case 6:
		return KindD6
	case 8:
		return KindD8
	case 10:
		return KindD10
	case 12:
		return KindD12
	case 20:
		return KindD20
	case 21:
		return KindD6Pipped
	default:
		return KindUnknown
	}
}

// FaceCount returns the number of faces for the flavor, 0 when unknown.
func (k DieKind) FaceCount() int {
	switch k {
	case KindD4:
		return 4
	case KindD6, KindD6Pipped, KindD6Fudge:
		return 6
	case KindD8:
		return 8
	case KindD10:
		return 10
	case KindD12:
		return 12
	case KindD20:
		return 20
	default:
		return 0
	}
}

func (k DieKind) String() string {
	switch k {
	case KindD4:
		return "d4"
	case KindD6:
		return "d6"
	case KindD6Pipped:
		return "pipped d6"
	case KindD6Fudge:
		return "fudge d6"
	case KindD8:
		return "d8"
	case KindD10:
		return "d10"
	case KindD12:
		return "d12"
	case KindD20:
		return "d20"
	default:
		return "unknown"
	}
}

// None fills message ID 0, which the protocol reserves.
type None struct{}

// WhoAreYou requests basic information; the die replies with IAmADie.
type WhoAreYou struct{}

// IAmADie is the reply to WhoAreYou with general die info.
type IAmADie struct {
	LEDCount       uint8
	DesignAndColor DesignAndColor
	_              [1]byte
	DataSetHash    uint32
	// PixelID is the factory-assigned unique die ID.
	PixelID        uint32
	AvailableFlash uint16
	// BuildTimestamp is when the firmware was built.
	BuildTimestamp time.Time
	RollState      RollStateKind
	// RollFace is the face currently up, starting at 0. Validity depends
	// on RollState.
	RollFace  uint8
	BattLevel uint8
	BattState BatteryState
}

// Kind returns the die flavor derived from the LED count.
func (m IAmADie) Kind() DieKind { return KindFromLEDCount(m.LEDCount) }

// FaceCount returns the total number of faces.
func (m IAmADie) FaceCount() int { return m.Kind().FaceCount() }

// ToRollState repackages the rolling information.
func (m IAmADie) ToRollState() RollState {
	return RollState{State: m.RollState, Face: m.RollFace}
}

// ToBatteryLevel repackages the battery information.
func (m IAmADie) ToBatteryLevel() BatteryLevel {
	return BatteryLevel{Level: m.BattLevel, State: m.BattState}
}

// RollState is the current motion. Broadcast on changes and the reply to
// RequestRollState.
type RollState struct {
	State RollStateKind
	// Face is the upright face, starting at 0.
	Face uint8
}

// Telemetry is a periodic sensor report. The leading 50 bytes carry the
// acceleration frame, which this client does not decode.
type Telemetry struct {
	_              [50]byte
	BatteryPercent uint8
	BatteryState   BatteryState
	// Voltage is in units of 1/50 V.
	Voltage uint8
	// VCoil is the charge coil voltage in units of 1/50 V.
	VCoil     uint8
	Rssi      int8
	BtChannel uint8
	// MCUTemp is in centidegrees Celsius.
	MCUTemp int16
	// BatteryTemp is in centidegrees Celsius.
	BatteryTemp               int16
	InternalChargeState       uint8
	ForceDisableChargingState uint8
}

// Bulk transfer handshake messages. The IDs are part of the protocol but
// this client does not implement animation upload.
type (
	BulkSetup    struct{}
	BulkSetupAck struct{}
	BulkData     struct{}
	BulkDataAck  struct{}
)

// DebugLog carries free-form log text from the die firmware.
type DebugLog struct {
	Text string
}

// PlayAnimation starts a stored animation.
type PlayAnimation struct {
	Animation uint8
	RemapFace uint8
	Loop      uint8
}

// StopAnimation stops a stored animation.
type StopAnimation struct {
	Animation uint8
	RemapFace uint8
}

// RemoteAction triggers a profile-defined remote action.
type RemoteAction struct {
	ActionID uint16
}

// RequestRollState asks for the current roll state; replied with RollState.
type RequestRollState struct{}

// Blink performs an ad-hoc blink animation; replied with BlinkAck.
type Blink struct {
	Count uint8
	// Duration is the total animation time in milliseconds.
	Duration uint16
	// Color is 0xRRGGBB.
	Color uint32
	// FaceMask selects which LEDs blink, one bit per LED.
	FaceMask uint32
	// Fade is the fading amount as a 'percent' (0-255) of a half-loop.
	Fade uint8
	// Loop is 1 to repeat until stopped.
	Loop uint8
}

// BlinkAck acknowledges Blink.
type BlinkAck struct{}

// RequestBatteryLevel asks for the battery state; replied with BatteryLevel.
type RequestBatteryLevel struct{}

// BatteryLevel is the current state of the battery. Broadcast on changes and
// the reply to RequestBatteryLevel.
type BatteryLevel struct {
	// Level is a percent.
	Level uint8
	State BatteryState
}

// RequestRssi asks the die to report RSSI; replied with Rssi.
type RequestRssi struct {
	RequestMode RequestMode
	// MinInterval is the interval of repeated reports in milliseconds.
	MinInterval uint16
}

// Rssi reports the signal strength as seen by the die.
type Rssi struct {
	Rssi int8
}

// Calibrate starts the interactive calibration process.
type Calibrate struct{}

// CalibrateFace immediately calibrates the given face.
type CalibrateFace struct {
	Face uint8
}

// NotifyUser is the die asking the user a question.
type NotifyUser struct {
	// Timeout is how long the die waits for a response, in seconds.
	Timeout uint8
	// Ok reports whether "ok" is an accepted answer.
	Ok bool
	// Cancel reports whether "cancel" is an accepted answer.
	Cancel bool
	// Text is the prompt to show the user.
	Text string
}

// NotifyUserAck carries the user's answer back to the die.
type NotifyUserAck struct {
	Answer OkCancel
}

// SetName changes the die's name; replied with SetNameAck.
type SetName struct {
	Name string
}

// SetNameAck acknowledges SetName.
type SetNameAck struct{}

// StopAllAnimations stops every running animation. No acknowledgement.
type StopAllAnimations struct{}

// RequestTemperature asks for the current temperature; replied with
// Temperature.
type RequestTemperature struct{}

// Temperature reports temperatures in centidegrees Celsius.
type Temperature struct {
	MCUTemp  int16
	BattTemp int16
}

// BlinkId blinks rainbow for die identification; replied with BlinkIdAck.
type BlinkId struct {
	Brightness uint8
	Loop       uint8
}

// BlinkIdAck acknowledges BlinkId.
type BlinkIdAck struct{}

// defaultRegistry is the static protocol table. IDs are sparse; unlisted
// IDs belong to operations this client does not speak.
var defaultRegistry = message.MustRegistry(
	message.Def[None](0),
	message.Def[WhoAreYou](1),
	message.Def[IAmADie](2),
	message.Def[RollState](3),
	message.Def[Telemetry](4),
	message.Def[BulkSetup](5),
	message.Def[BulkSetupAck](6),
	message.Def[BulkData](7),
	message.Def[BulkDataAck](8),
	message.Def[DebugLog](18),
	message.Def[PlayAnimation](19),
	message.Def[StopAnimation](21),
	message.Def[RemoteAction](22),
	message.Def[RequestRollState](23),
	message.Def[Blink](29),
	message.Def[BlinkAck](30),
	message.Def[RequestBatteryLevel](33),
	message.Def[BatteryLevel](34),
	message.Def[RequestRssi](35),
	message.Def[Rssi](36),
	message.Def[Calibrate](37),
	message.Def[CalibrateFace](38),
	message.Def[NotifyUser](39),
	message.Def[NotifyUserAck](40),
	message.Def[SetName](51),
	message.Def[SetNameAck](52),
	message.Def[StopAllAnimations](59),
	message.Def[RequestTemperature](60),
	message.Def[Temperature](61),
	message.Def[BlinkId](65),
	message.Def[BlinkIdAck](66),
)

// Registry returns the protocol's message registry.
func Registry() *message.Registry {
	return defaultRegistry
}
