// Package connection provides the BLE transport for a die: one write
// characteristic for outbound packets and one notify characteristic for
// inbound packets.
package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/dicelink/internal/groutine"
)

// ServiceUUID is the Pixels dice communications service.
var ServiceUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")

// NotifyCharUUID is the notify characteristic (die -> client).
var NotifyCharUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")

// WriteCharUUID is the write characteristic (client -> die).
var WriteCharUUID = ble.MustParse("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")

// InfoServiceUUID is the standard device-information service that carries
// the die's advertisement service data.
var InfoServiceUUID = ble.UUID16(0x180A)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// DefaultConnectTimeout bounds Connect when the caller's context carries no
// deadline of its own.
const DefaultConnectTimeout = 30 * time.Second

// Connection is a live BLE session with one die.
type Connection struct {
	address string
	logger  *logrus.Logger

	connMutex    sync.RWMutex
	client       ble.Client
	notifyChar   *ble.Characteristic
	writeChar    *ble.Characteristic
	isConnected  bool
	subscribed   bool
	onDisconnect func()

	writeMutex sync.Mutex

	ConnectTimeout time.Duration
}

// New creates a connection for the die at the given address. It does not
// dial until Connect is called.
func New(address string, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connection{
		address:        address,
		logger:         logger,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Connect dials the die and resolves the write and notify characteristics.
func (c *Connection) Connect(ctx context.Context) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if strings.TrimSpace(c.address) == "" {
		return fmt.Errorf("failed to connect: device address is not set")
	}
	if c.isConnected {
		return fmt.Errorf("already connected")
	}

	c.logger.WithField("address", c.address).Info("Connecting to die...")

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	client, err := ble.Dial(connCtx, ble.NewAddr(c.address))
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", c.address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	var svc *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(ServiceUUID) {
			svc = s
			break
		}
	}
	if svc == nil {
		client.CancelConnection()
		return fmt.Errorf("dice service %s not found", ServiceUUID)
	}

	c.notifyChar, c.writeChar = nil, nil
	for _, char := range svc.Characteristics {
		switch {
		case char.UUID.Equal(NotifyCharUUID) && char.Property&(ble.CharNotify|ble.CharIndicate) != 0:
			c.notifyChar = char
		case char.UUID.Equal(WriteCharUUID):
			c.writeChar = char
		}
	}
	if c.notifyChar == nil {
		client.CancelConnection()
		return fmt.Errorf("notify characteristic %s not found", NotifyCharUUID)
	}
	if c.writeChar == nil {
		client.CancelConnection()
		return fmt.Errorf("write characteristic %s not found", WriteCharUUID)
	}

	c.client = client
	c.isConnected = true

	// Watch for the transport-level drop, expected or not.
	groutine.Go(nil, "die-disconnect-watch", func(context.Context) {
		<-client.Disconnected()
		c.handleDrop()
	})

	c.logger.WithField("address", c.address).Info("Die connected")
	return nil
}

// Disconnect closes the session. Safe to call on a connection that never
// connected.
func (c *Connection) Disconnect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.client == nil || !c.isConnected {
		return nil
	}

	err := c.client.CancelConnection()
	c.client = nil
	c.isConnected = false
	c.subscribed = false

	if err != nil {
		c.logger.WithError(err).Warn("Die disconnected with errors")
		return err
	}
	c.logger.Info("Die disconnected")
	return nil
}

// IsConnected reports whether the session is live.
func (c *Connection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnected
}

// Write sends one packet to the die's write characteristic. Packets are
// written whole; a packet is the protocol's framing unit.
func (c *Connection) Write(data []byte) error {
	c.connMutex.RLock()
	client, char, connected := c.client, c.writeChar, c.isConnected
	c.connMutex.RUnlock()

	if !connected {
		return fmt.Errorf("not connected")
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := client.WriteCharacteristic(char, data, false); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	c.logger.WithField("bytes", len(data)).Debug("Wrote packet")
	return nil
}

// Subscribe starts delivering inbound notification buffers to fn.
func (c *Connection) Subscribe(fn func(data []byte)) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.isConnected {
		return fmt.Errorf("not connected")
	}
	if c.subscribed {
		return fmt.Errorf("already subscribed")
	}

	if err := c.client.Subscribe(c.notifyChar, false, fn); err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	c.subscribed = true
	return nil
}

// Unsubscribe stops notification delivery.
func (c *Connection) Unsubscribe() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.subscribed || c.client == nil {
		return nil
	}
	c.subscribed = false

	if err := c.client.Unsubscribe(c.notifyChar, false); err != nil {
		return fmt.Errorf("failed to unsubscribe from notifications: %w", err)
	}
	return nil
}

// SetDisconnectHandler installs the callback invoked once when the transport
// connection drops.
func (c *Connection) SetDisconnectHandler(fn func()) {
	c.connMutex.Lock()
	c.onDisconnect = fn
	c.connMutex.Unlock()
}

func (c *Connection) handleDrop() {
	c.connMutex.Lock()
	wasConnected := c.isConnected
	c.isConnected = false
	c.subscribed = false
	c.client = nil
	fn := c.onDisconnect
	c.connMutex.Unlock()

	if !wasConnected {
		return
	}
	c.logger.WithField("address", c.address).Info("Transport connection dropped")
	if fn != nil {
		fn()
	}
}
