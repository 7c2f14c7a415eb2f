package dice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/dicelink/pkg/link"
)

// BlinkForever makes Blink repeat until stopped.
const BlinkForever = -1

// ErrAlreadyAnswered is returned when a NotifyRequest is responded to more
// than once.
var ErrAlreadyAnswered = errors.New("prompt already answered")

// BlinkOptions configures an ad-hoc blink animation.
type BlinkOptions struct {
	// Color is the color to flash, in 0xRRGGBB.
	Color uint32
	// Count is the number of blinks, or BlinkForever to loop until
	// cancelled. Zero means one blink.
	Count int
	// Duration is the time of each on-off loop. The blink always has a
	// 50% duty cycle.
	Duration time.Duration
	// Fade is the time spent fading, as a 'percent' (0-255) of a half-loop.
	Fade uint8
	// LEDMask selects which LEDs blink, one bit per LED. Zero means all.
	LEDMask uint32
}

// NotifyRequest is a question from the die to the user. Respond must be
// called at most once, within the die's timeout window.
type NotifyRequest struct {
	Text string
	// Ok and Cancel report which answers the die accepts.
	Ok     bool
	Cancel bool
	// Timeout is how long the die waits for an answer.
	Timeout time.Duration

	once *sync.Once
	send func(OkCancel) error
}

// Respond sends the user's answer back to the die. The second and later
// calls return ErrAlreadyAnswered.
func (r NotifyRequest) Respond(answer OkCancel) error {
	err := ErrAlreadyAnswered
	r.once.Do(func() {
		err = r.send(answer)
	})
	return err
}

// Die is the stateful per-peripheral handle exposed to application code.
// It caches the last-known die state and keeps it fresh from query responses
// and unsolicited broadcasts.
//
// Construct one by hydrating a ScanSummary, or with NewDie when injecting a
// transport.
type Die struct {
	link   *link.Link
	logger *logrus.Logger

	mu             sync.RWMutex
	address        string
	name           string
	ledCount       uint8
	design         DesignAndColor
	pixelID        uint32
	buildTimestamp time.Time
	rollState      RollStateKind
	rollFace       uint8
	battLevel      uint8
	battState      BatteryState

	rollEvents   emitter[RollState]
	battEvents   emitter[BatteryLevel]
	changeEvents emitter[[]string]
	dropEvents   emitter[struct{}]
	notifyEvents emitter[NotifyRequest]
}

// NewDie builds a Die from a scan summary over the given transport.
func NewDie(sr ScanSummary, transport link.Transport, logger *logrus.Logger) *Die {
	if logger == nil {
		logger = logrus.New()
	}

	d := &Die{
		logger:         logger,
		address:        sr.Address,
		name:           sr.Name,
		ledCount:       sr.LEDCount,
		design:         sr.DesignAndColor,
		pixelID:        sr.PixelID,
		buildTimestamp: sr.BuildTimestamp,
		rollState:      sr.RollState,
		rollFace:       sr.RollFace,
		battLevel:      sr.BattLevel,
		battState:      sr.BattState.AsBatteryState(),
	}
	d.link = link.New(transport, Registry(), logger)

	link.OnMessage(d.link, d.onRollState)
	link.OnMessage(d.link, d.onBatteryLevel)
	link.OnMessage(d.link, d.onNotifyUser)
	d.link.OnDisconnected(func() {
		d.logger.WithField("address", d.Address()).Info("Die disconnected unexpectedly")
		d.dropEvents.emit(struct{}{})
	})

	return d
}

// Connect connects to the die.
func (d *Die) Connect(ctx context.Context) error {
	return d.link.Connect(ctx)
}

// Disconnect disconnects from the die. No automatic reconnect follows an
// explicit disconnect.
func (d *Die) Disconnect() error {
	return d.link.Disconnect()
}

// WithReconnect connects, runs fn, and disconnects afterwards. While fn runs,
// an unexpected disconnect triggers one automatic reconnect attempt per drop.
// The reconnect policy is removed on every exit path.
func (d *Die) WithReconnect(ctx context.Context, fn func(ctx context.Context) error) error {
	sub := d.OnDisconnected(func() {
		d.logger.WithField("address", d.Address()).Info("Reconnecting to die")
		if err := d.Connect(ctx); err != nil {
			d.logger.WithError(err).Error("Automatic reconnect failed")
		}
	})

	if err := d.Connect(ctx); err != nil {
		sub.Cancel()
		return err
	}

	defer func() {
		sub.Cancel()
		if err := d.Disconnect(); err != nil {
			d.logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	return fn(ctx)
}

// IsConnected reports whether the die is currently connected.
func (d *Die) IsConnected() bool { return d.link.IsConnected() }

// Address returns the MAC address (UUID on macOS) of the die.
func (d *Die) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.address
}

// Name returns the cached display name.
func (d *Die) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// PixelID returns the factory-assigned unique die ID.
func (d *Die) PixelID() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pixelID
}

// LEDCount returns the number of LEDs and faces.
func (d *Die) LEDCount() uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ledCount
}

// DesignAndColor returns the aesthetic design of the die.
func (d *Die) DesignAndColor() DesignAndColor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.design
}

// BuildTimestamp returns the firmware build date.
func (d *Die) BuildTimestamp() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildTimestamp
}

// Kind returns the die flavor derived from the LED count.
func (d *Die) Kind() DieKind { return KindFromLEDCount(d.LEDCount()) }

// FaceCount returns the total number of faces.
func (d *Die) FaceCount() int { return d.Kind().FaceCount() }

// LastRollState returns the cached rolling information.
func (d *Die) LastRollState() RollState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return RollState{State: d.rollState, Face: d.rollFace}
}

// LastBatteryLevel returns the cached battery information.
func (d *Die) LastBatteryLevel() BatteryLevel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return BatteryLevel{Level: d.battLevel, State: d.battState}
}

// OnRollState subscribes to roll-state broadcasts.
func (d *Die) OnRollState(fn func(RollState)) link.Subscription {
	return d.rollEvents.subscribe(fn)
}

// OnBatteryLevel subscribes to battery broadcasts.
func (d *Die) OnBatteryLevel(fn func(BatteryLevel)) link.Subscription {
	return d.battEvents.subscribe(fn)
}

// OnDataChanged subscribes to cache updates; fn receives the names of the
// fields that changed.
func (d *Die) OnDataChanged(fn func(fields []string)) link.Subscription {
	return d.changeEvents.subscribe(fn)
}

// OnDisconnected subscribes to unexpected disconnects.
func (d *Die) OnDisconnected(fn func()) link.Subscription {
	return d.dropEvents.subscribe(func(struct{}) { fn() })
}

// OnNotifyUser subscribes to questions from the die.
func (d *Die) OnNotifyUser(fn func(NotifyRequest)) link.Subscription {
	return d.notifyEvents.subscribe(fn)
}

// WhoAreYou performs a basic info query and refreshes the cached state.
func (d *Die) WhoAreYou(ctx context.Context) (IAmADie, error) {
	msg, err := link.Request[IAmADie](ctx, d.link, WhoAreYou{})
	if err != nil {
		return IAmADie{}, err
	}

	d.mu.Lock()
	d.ledCount = msg.LEDCount
	d.design = msg.DesignAndColor
	d.pixelID = msg.PixelID
	d.buildTimestamp = msg.BuildTimestamp
	d.rollState = msg.RollState
	d.rollFace = msg.RollFace
	d.battLevel = msg.BattLevel
	d.battState = msg.BattState
	d.mu.Unlock()

	d.changeEvents.emit([]string{
		"led_count", "design_and_color", "pixel_id", "build_timestamp",
		"roll_state", "roll_face", "batt_level", "batt_state",
	})
	return msg, nil
}

// GetRollState requests the current roll state.
func (d *Die) GetRollState(ctx context.Context) (RollState, error) {
	msg, err := link.Request[RollState](ctx, d.link, RequestRollState{})
	if err != nil {
		return RollState{}, err
	}

	d.mu.Lock()
	d.rollState = msg.State
	d.rollFace = msg.Face
	d.mu.Unlock()

	d.changeEvents.emit([]string{"roll_state", "roll_face"})
	return msg, nil
}

// GetBatteryLevel requests the current battery level.
func (d *Die) GetBatteryLevel(ctx context.Context) (BatteryLevel, error) {
	msg, err := link.Request[BatteryLevel](ctx, d.link, RequestBatteryLevel{})
	if err != nil {
		return BatteryLevel{}, err
	}

	d.mu.Lock()
	d.battLevel = msg.Level
	d.battState = msg.State
	d.mu.Unlock()

	d.changeEvents.emit([]string{"batt_level", "batt_state"})
	return msg, nil
}

// Blink runs an ad-hoc blink animation. It returns once the die acknowledges
// the command, not when the animation finishes. An infinite blink is encoded
// on the wire as loop=1 with count pinned to 1.
func (d *Die) Blink(ctx context.Context, opts BlinkOptions) error {
	count := opts.Count
	if count == 0 {
		count = 1
	}
	mask := opts.LEDMask
	if mask == 0 {
		mask = 0xFF
	}

	var loop uint8
	if count == BlinkForever {
		loop, count = 1, 1
	}

	msg := Blink{
		Count:    uint8(count),
		Duration: uint16(time.Duration(count) * opts.Duration / time.Millisecond),
		Color:    opts.Color,
		FaceMask: mask,
		Fade:     opts.Fade,
		Loop:     loop,
	}
	_, err := link.Request[BlinkAck](ctx, d.link, msg)
	return err
}

// BlinkID blinks rainbow, suitable for identifying the die. Brightness 0 is
// off, 255 is max.
func (d *Die) BlinkID(ctx context.Context, brightness uint8, loop bool) error {
	var l uint8
	if loop {
		l = 1
	}
	_, err := link.Request[BlinkIdAck](ctx, d.link, BlinkId{Brightness: brightness, Loop: l})
	return err
}

// StopAllAnimations stops every running animation, regardless of source.
// The die sends no acknowledgement.
func (d *Die) StopAllAnimations() error {
	return d.link.Send(StopAllAnimations{})
}

// SetName changes the die's name. The cache updates once the die
// acknowledges.
func (d *Die) SetName(ctx context.Context, name string) error {
	if _, err := link.Request[SetNameAck](ctx, d.link, SetName{Name: name}); err != nil {
		return err
	}

	d.mu.Lock()
	d.name = name
	d.mu.Unlock()

	d.changeEvents.emit([]string{"name"})
	return nil
}

// GetRSSI requests the signal strength the die sees.
func (d *Die) GetRSSI(ctx context.Context) (int, error) {
	msg, err := link.Request[Rssi](ctx, d.link, RequestRssi{RequestMode: RequestModeOnce})
	if err != nil {
		return 0, err
	}
	return int(msg.Rssi), nil
}

// StartCalibration starts the interactive calibration process. Interaction
// continues through NotifyUser prompts; the die will not behave normally
// until calibration completes or times out.
func (d *Die) StartCalibration() error {
	return d.link.Send(Calibrate{})
}

// CalibrateFace calibrates one face. The die must rest on a flat, level
// surface with the noted face up.
func (d *Die) CalibrateFace(face uint8) error {
	return d.link.Send(CalibrateFace{Face: face})
}

// GetTemperature returns the microcontroller and battery temperatures in
// degrees Celsius.
func (d *Die) GetTemperature(ctx context.Context) (mcu, batt float64, err error) {
	msg, err := link.Request[Temperature](ctx, d.link, RequestTemperature{})
	if err != nil {
		return 0, 0, err
	}
	return float64(msg.MCUTemp) / 100, float64(msg.BattTemp) / 100, nil
}

func (d *Die) onRollState(msg RollState) {
	d.mu.Lock()
	d.rollState = msg.State
	d.rollFace = msg.Face
	d.mu.Unlock()

	d.changeEvents.emit([]string{"roll_state", "roll_face"})
	d.rollEvents.emit(msg)
}

func (d *Die) onBatteryLevel(msg BatteryLevel) {
	d.mu.Lock()
	d.battLevel = msg.Level
	d.battState = msg.State
	d.mu.Unlock()

	d.changeEvents.emit([]string{"batt_level", "batt_state"})
	d.battEvents.emit(msg)
}

func (d *Die) onNotifyUser(msg NotifyUser) {
	req := NotifyRequest{
		Text:    msg.Text,
		Ok:      msg.Ok,
		Cancel:  msg.Cancel,
		Timeout: time.Duration(msg.Timeout) * time.Second,
		once:    new(sync.Once),
		send: func(answer OkCancel) error {
			return d.link.Send(NotifyUserAck{Answer: answer})
		},
	}
	d.notifyEvents.emit(req)
}
