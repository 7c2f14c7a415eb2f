package dice

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/dicelink/pkg/message"
)

// scriptedTransport answers writes with canned reply packets, keyed by the
// outbound message ID byte.
type scriptedTransport struct {
	mu          sync.Mutex
	replies     map[byte][]byte
	written     [][]byte
	notify      func(data []byte)
	onDrop      func()
	connects    int
	disconnects int
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{replies: make(map[byte][]byte)}
}

// reply arranges for every write of the given message ID to be answered with
// the encoded form of msg.
func (s *scriptedTransport) reply(t *testing.T, id byte, msg message.Message) {
	t.Helper()
	blob, err := Registry().Encode(msg)
	require.NoError(t, err)
	s.mu.Lock()
	s.replies[id] = blob
	s.mu.Unlock()
}

func (s *scriptedTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return nil
}

func (s *scriptedTransport) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *scriptedTransport) Write(data []byte) error {
	s.mu.Lock()
	s.written = append(s.written, append([]byte(nil), data...))
	reply := s.replies[data[0]]
	fn := s.notify
	s.mu.Unlock()

	if reply != nil && fn != nil {
		fn(reply)
	}
	return nil
}

func (s *scriptedTransport) Subscribe(fn func(data []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
	return nil
}

func (s *scriptedTransport) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = nil
	return nil
}

func (s *scriptedTransport) SetDisconnectHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = fn
}

// push delivers an unsolicited packet from the die.
func (s *scriptedTransport) push(t *testing.T, msg message.Message) {
	t.Helper()
	blob, err := Registry().Encode(msg)
	require.NoError(t, err)

	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	require.NotNil(t, fn, "transport has no notification subscriber")
	fn(blob)
}

func (s *scriptedTransport) drop() {
	s.mu.Lock()
	fn := s.onDrop
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *scriptedTransport) lastWrite() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.written) == 0 {
		return nil
	}
	return s.written[len(s.written)-1]
}

func (s *scriptedTransport) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func testSummary() ScanSummary {
	return ScanSummary{
		Address:        "AA:BB:CC:DD:EE:FF",
		Name:           "Pebble",
		LEDCount:       20,
		DesignAndColor: DesignMidnightGalaxy,
		RollState:      RollOnFace,
		RollFace:       4,
		BattState:      ScanBatteryOk,
		BattLevel:      80,
		PixelID:        0x06F08A5A,
		BuildTimestamp: time.Unix(0x64888717, 0).UTC(),
	}
}

func newTestDie(t *testing.T) (*Die, *scriptedTransport) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := newScriptedTransport()
	d := NewDie(testSummary(), st, logger)
	require.NoError(t, d.Connect(context.Background()))
	return d, st
}

func TestNewDie_SeedsCacheFromSummary(t *testing.T) {
	d, _ := newTestDie(t)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.Address())
	assert.Equal(t, "Pebble", d.Name())
	assert.Equal(t, uint32(0x06F08A5A), d.PixelID())
	assert.Equal(t, uint8(20), d.LEDCount())
	assert.Equal(t, KindD20, d.Kind())
	assert.Equal(t, 20, d.FaceCount())
	assert.Equal(t, RollState{State: RollOnFace, Face: 4}, d.LastRollState())
	assert.Equal(t, BatteryLevel{Level: 80, State: BatteryOk}, d.LastBatteryLevel())
	assert.True(t, d.IsConnected())
}

func TestDie_WhoAreYouRefreshesCache(t *testing.T) {
	d, st := newTestDie(t)

	st.reply(t, 1, IAmADie{
		LEDCount:       12,
		DesignAndColor: DesignV5Grey,
		DataSetHash:    0xCAFEBABE,
		PixelID:        0x11223344,
		AvailableFlash: 1024,
		BuildTimestamp: time.Unix(1700000000, 0).UTC(),
		RollState:      RollCrooked,
		RollFace:       2,
		BattLevel:      55,
		BattState:      BatteryLow,
	})

	changed := make(chan []string, 1)
	sub := d.OnDataChanged(func(fields []string) { changed <- fields })
	defer sub.Cancel()

	info, err := d.WhoAreYou(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), info.DataSetHash)
	assert.Equal(t, KindD12, info.Kind())
	assert.Equal(t, 12, info.FaceCount())

	assert.Equal(t, uint8(12), d.LEDCount())
	assert.Equal(t, DesignV5Grey, d.DesignAndColor())
	assert.Equal(t, uint32(0x11223344), d.PixelID())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), d.BuildTimestamp())
	assert.Equal(t, RollState{State: RollCrooked, Face: 2}, d.LastRollState())
	assert.Equal(t, BatteryLevel{Level: 55, State: BatteryLow}, d.LastBatteryLevel())

	select {
	case fields := <-changed:
		assert.Contains(t, fields, "led_count")
		assert.Contains(t, fields, "pixel_id")
		assert.Contains(t, fields, "roll_state")
		assert.Contains(t, fields, "batt_level")
	case <-time.After(time.Second):
		t.Fatal("change event never fired")
	}
}

func TestDie_GetRollState(t *testing.T) {
	d, st := newTestDie(t)
	st.reply(t, 23, RollState{State: RollRolling, Face: 0})

	rs, err := d.GetRollState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RollRolling, rs.State)
	assert.Equal(t, rs, d.LastRollState())
	assert.Equal(t, []byte{23}, st.lastWrite()[:1])
}

func TestDie_GetBatteryLevel(t *testing.T) {
	d, st := newTestDie(t)
	st.reply(t, 33, BatteryLevel{Level: 31, State: BatteryCharging})

	bl, err := d.GetBatteryLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatteryLevel{Level: 31, State: BatteryCharging}, bl)
	assert.Equal(t, bl, d.LastBatteryLevel())
}

func TestDie_BlinkEncoding(t *testing.T) {
	tests := []struct {
		name string
		opts BlinkOptions
		want []byte
	}{
		{
			name: "explicit options",
			opts: BlinkOptions{Color: 0xFF0000, Count: 2, Duration: 500 * time.Millisecond, Fade: 64, LEDMask: 0x0F},
			want: []byte{
				29,
				2,
				0xE8, 0x03, // 2 loops of 500ms
				0x00, 0x00, 0xFF, 0x00,
				0x0F, 0x00, 0x00, 0x00,
				64,
				0,
			},
		},
		{
			name: "zero count and mask pick defaults",
			opts: BlinkOptions{Color: 0x00FF00, Duration: time.Second},
			want: []byte{
				29,
				1,
				0xE8, 0x03,
				0x00, 0xFF, 0x00, 0x00,
				0xFF, 0x00, 0x00, 0x00,
				0,
				0,
			},
		},
		{
			name: "forever pins count to one and sets loop",
			opts: BlinkOptions{Color: 0x0000FF, Count: BlinkForever, Duration: time.Second, Fade: 128},
			want: []byte{
				29,
				1,
				0xE8, 0x03,
				0xFF, 0x00, 0x00, 0x00,
				0xFF, 0x00, 0x00, 0x00,
				128,
				1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, st := newTestDie(t)
			st.reply(t, 29, BlinkAck{})

			require.NoError(t, d.Blink(context.Background(), tt.opts))
			assert.Equal(t, tt.want, st.lastWrite())
		})
	}
}

func TestDie_BlinkID(t *testing.T) {
	d, st := newTestDie(t)
	st.reply(t, 65, BlinkIdAck{})

	require.NoError(t, d.BlinkID(context.Background(), 200, true))
	assert.Equal(t, []byte{65, 200, 1}, st.lastWrite())
}

func TestDie_StopAllAnimations(t *testing.T) {
	d, st := newTestDie(t)

	// Fire-and-forget, no ack scripted.
	require.NoError(t, d.StopAllAnimations())
	assert.Equal(t, []byte{59}, st.lastWrite())
}

func TestDie_SetName(t *testing.T) {
	d, st := newTestDie(t)
	st.reply(t, 51, SetNameAck{})

	changed := make(chan []string, 1)
	sub := d.OnDataChanged(func(fields []string) { changed <- fields })
	defer sub.Cancel()

	require.NoError(t, d.SetName(context.Background(), "Lucky"))
	assert.Equal(t, "Lucky", d.Name())
	assert.Equal(t, append([]byte{51}, []byte("Lucky")...), st.lastWrite())

	select {
	case fields := <-changed:
		assert.Equal(t, []string{"name"}, fields)
	case <-time.After(time.Second):
		t.Fatal("change event never fired")
	}
}

func TestDie_GetRSSI(t *testing.T) {
	d, st := newTestDie(t)
	st.reply(t, 35, Rssi{Rssi: -62})

	rssi, err := d.GetRSSI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -62, rssi)
	assert.Equal(t, []byte{35, 1, 0, 0}, st.lastWrite())
}

func TestDie_GetTemperature(t *testing.T) {
	d, st := newTestDie(t)
	st.reply(t, 60, Temperature{MCUTemp: 2150, BattTemp: -325})

	mcu, batt, err := d.GetTemperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 21.5, mcu, 0.001)
	assert.InDelta(t, -3.25, batt, 0.001)
}

func TestDie_Calibration(t *testing.T) {
	d, st := newTestDie(t)

	require.NoError(t, d.StartCalibration())
	assert.Equal(t, []byte{37}, st.lastWrite())

	require.NoError(t, d.CalibrateFace(7))
	assert.Equal(t, []byte{38, 7}, st.lastWrite())
}

func TestDie_BroadcastsUpdateCacheAndEvents(t *testing.T) {
	d, st := newTestDie(t)

	rolls := make(chan RollState, 1)
	sub := d.OnRollState(func(rs RollState) { rolls <- rs })
	defer sub.Cancel()

	st.push(t, RollState{State: RollOnFace, Face: 19})
	select {
	case rs := <-rolls:
		assert.Equal(t, RollState{State: RollOnFace, Face: 19}, rs)
	case <-time.After(time.Second):
		t.Fatal("roll event never fired")
	}
	assert.Equal(t, RollState{State: RollOnFace, Face: 19}, d.LastRollState())

	batts := make(chan BatteryLevel, 1)
	bsub := d.OnBatteryLevel(func(bl BatteryLevel) { batts <- bl })
	defer bsub.Cancel()

	st.push(t, BatteryLevel{Level: 12, State: BatteryLow})
	select {
	case bl := <-batts:
		assert.Equal(t, BatteryLevel{Level: 12, State: BatteryLow}, bl)
	case <-time.After(time.Second):
		t.Fatal("battery event never fired")
	}
	assert.Equal(t, BatteryLevel{Level: 12, State: BatteryLow}, d.LastBatteryLevel())
}

func TestDie_NotifyUserRespondsAtMostOnce(t *testing.T) {
	d, st := newTestDie(t)

	prompts := make(chan NotifyRequest, 1)
	sub := d.OnNotifyUser(func(req NotifyRequest) { prompts <- req })
	defer sub.Cancel()

	st.push(t, NotifyUser{Timeout: 30, Ok: true, Cancel: true, Text: "Place face 20 up"})

	var req NotifyRequest
	select {
	case req = <-prompts:
	case <-time.After(time.Second):
		t.Fatal("prompt never delivered")
	}

	assert.Equal(t, "Place face 20 up", req.Text)
	assert.True(t, req.Ok)
	assert.True(t, req.Cancel)
	assert.Equal(t, 30*time.Second, req.Timeout)

	require.NoError(t, req.Respond(AnswerOk))
	assert.Equal(t, []byte{40, 1}, st.lastWrite())

	assert.ErrorIs(t, req.Respond(AnswerCancel), ErrAlreadyAnswered)
}

func TestDie_WithReconnect(t *testing.T) {
	t.Run("unexpected drop reconnects", func(t *testing.T) {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		st := newScriptedTransport()
		d := NewDie(testSummary(), st, logger)

		err := d.WithReconnect(context.Background(), func(ctx context.Context) error {
			require.Equal(t, 1, st.connectCount())
			st.drop()

			deadline := time.After(time.Second)
			for st.connectCount() < 2 {
				select {
				case <-deadline:
					t.Fatal("reconnect never happened")
				case <-time.After(time.Millisecond):
				}
			}

			// Exactly one reconnect per drop.
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 2, st.connectCount())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("explicit disconnect does not reconnect", func(t *testing.T) {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		st := newScriptedTransport()
		d := NewDie(testSummary(), st, logger)

		err := d.WithReconnect(context.Background(), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)

		// The teardown disconnect is expected; a late transport drop after
		// WithReconnect returns must not dial again.
		st.drop()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, st.connectCount())
	})
}
