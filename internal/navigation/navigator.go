package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/navble/internal/gattc"
	"github.com/srg/navble/internal/radio"
)

var (
	// ErrTargetNotFound is returned by Setup when no advertisement matched the target.
	ErrTargetNotFound = errors.New("no device running the navigation app found")

	// ErrHalted is returned by Run after too many consecutive failures.
	ErrHalted = errors.New("navigation halted")
)

// Generic Access service and its Device Name characteristic.
var (
	gapServiceUUID     = ble.UUID16(0x1800)
	deviceNameCharUUID = ble.UUID16(0x2a00)
)

// Display renders navigation state.
type Display interface {
	ShowNavigation(u Update)
	ShowMessage(msg string)
}

// Central is the part of gattc.Client the navigator drives.
type Central interface {
	Scan(ctx context.Context, d time.Duration) (*gattc.ScanTable, error)
	Connect(ctx context.Context, addrType radio.AddrType, addr radio.Address) (*gattc.Peripheral, error)
	Poll() error
}

var _ Central = (*gattc.Client)(nil)

// Options tunes the navigator loop.
type Options struct {
	ScanWindow   time.Duration `default:"1s"`
	SetupTimeout time.Duration `default:"10s"`
	NavInterval  time.Duration `default:"5s"`
	RetryDelay   time.Duration `default:"10s"`
	PollInterval time.Duration `default:"50ms"`
	MaxFailures  int           `default:"5"`
}

// Device is a connected navigation source.
type Device struct {
	Peripheral     *gattc.Peripheral
	Characteristic *gattc.Characteristic
	Name           string
}

// Navigator keeps a navigation source connected and shows its instructions.
type Navigator struct {
	central Central
	display Display
	target  Target
	opts    Options
	logger  *logrus.Logger

	device   *Device
	failures int
}

// NewNavigator creates a navigator. Zero options take their defaults.
func NewNavigator(central Central, display Display, target Target, opts Options, logger *logrus.Logger) *Navigator {
	defaults.SetDefaults(&opts)
	if logger == nil {
		logger = logrus.New()
	}
	return &Navigator{
		central: central,
		display: display,
		target:  target,
		opts:    opts,
		logger:  logger,
	}
}

// Device returns the current navigation source, if any.
func (n *Navigator) Device() *Device { return n.device }

// Failures returns the number of consecutive failed steps.
func (n *Navigator) Failures() int { return n.failures }

// Setup scans in windows until a device advertising the target shows up or
// the setup timeout elapses, then connects and subscribes to it.
func (n *Navigator) Setup(ctx context.Context) (*Device, error) {
	deadline := time.Now().Add(n.opts.SetupTimeout)
	for time.Now().Before(deadline) {
		table, err := n.central.Scan(ctx, n.opts.ScanWindow)
		if err != nil {
			return nil, err
		}
		for _, r := range table.Results() {
			if !n.target.Matches(r.Data) {
				continue
			}
			n.logger.WithField("addr", r.Addr).Info("Found device running the navigation app")

			p, err := n.central.Connect(ctx, r.AddrType, r.Addr)
			if err != nil {
				return nil, fmt.Errorf("unable to connect to %s: %w", r.Addr, err)
			}
			return n.attachOrRelease(ctx, p)
		}
	}
	return nil, ErrTargetNotFound
}

// attachOrRelease attaches to p and disconnects p when attaching fails.
func (n *Navigator) attachOrRelease(ctx context.Context, p *gattc.Peripheral) (*Device, error) {
	dev, err := n.attach(ctx, p)
	if err == nil {
		return dev, nil
	}
	if derr := p.Disconnect(ctx); derr != nil {
		n.logger.WithError(derr).WithField("addr", p.Addr()).Warn("Failed to disconnect after setup failure")
	}
	return nil, err
}

// attach resolves the device name and subscribes to the navigation characteristic.
func (n *Navigator) attach(ctx context.Context, p *gattc.Peripheral) (*Device, error) {
	name, err := deviceName(ctx, p)
	if err != nil {
		return nil, err
	}
	n.logger.WithFields(logrus.Fields{
		"addr": p.Addr(),
		"name": name,
	}).Info("Connected to device")

	svcs, err := p.GetService(ctx, n.target.ServiceUUID, false)
	if err != nil {
		return nil, err
	}
	chars, err := svcs[0].GetCharacteristic(ctx, n.target.CharacteristicUUID, false)
	if err != nil {
		return nil, err
	}
	ch := chars[0]
	if err := ch.RegisterNotify(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to navigation updates: %w", err)
	}

	n.logger.WithField("characteristic", ch.UUID().String()).Info("Setup complete")
	return &Device{Peripheral: p, Characteristic: ch, Name: name}, nil
}

// deviceName reads the Generic Access device name. A peripheral without one
// is reported as "Unknown device".
func deviceName(ctx context.Context, p *gattc.Peripheral) (string, error) {
	const unknown = "Unknown device"

	var notFound *gattc.NotFoundError
	svcs, err := p.GetService(ctx, gapServiceUUID, false)
	if errors.As(err, &notFound) {
		return unknown, nil
	}
	if err != nil {
		return "", err
	}
	chars, err := svcs[0].GetCharacteristic(ctx, deviceNameCharUUID, false)
	if errors.As(err, &notFound) {
		return unknown, nil
	}
	if err != nil {
		return "", err
	}
	data, ok, err := chars[0].Read(ctx)
	if err != nil {
		return "", err
	}
	if !ok || len(data) == 0 {
		return unknown, nil
	}
	return string(data), nil
}

// Step makes sure the device is connected, reads the current instruction
// and displays it.
func (n *Navigator) Step(ctx context.Context) error {
	if err := n.ensureDevice(ctx); err != nil {
		return err
	}

	data, ok, err := n.device.Characteristic.Read(ctx)
	if err != nil {
		return err
	}
	n.show(data, ok)
	return nil
}

func (n *Navigator) ensureDevice(ctx context.Context) error {
	if n.device != nil && n.device.Peripheral.Connected() {
		return nil
	}

	if n.device != nil {
		n.logger.WithField("addr", n.device.Peripheral.Addr()).Info("Device disconnected, reconnecting")
		p, err := n.device.Peripheral.Connect(ctx)
		if err == nil {
			dev, err := n.attachOrRelease(ctx, p)
			if err != nil {
				return err
			}
			n.device = dev
			return nil
		}
		n.logger.WithError(err).Warn("Reconnect failed, searching again")
		n.device = nil
	}

	dev, err := n.Setup(ctx)
	if err != nil {
		return err
	}
	n.device = dev
	return nil
}

func (n *Navigator) show(data []byte, ok bool) {
	if ok {
		if u, valid := Decode(data); valid {
			n.logger.WithField("update", u.String()).Debug("Navigation update")
			n.display.ShowNavigation(u)
			return
		}
	}
	n.logger.Debug("No navigation data available")
	n.display.ShowMessage(NoNavData)
}

// HandleNotify is a gattc.NotifyFunc that displays instructions pushed by
// the device between two steps.
func (n *Navigator) HandleNotify(conn radio.ConnHandle, valueHandle uint16, data []byte) {
	dev := n.device
	if dev == nil || dev.Peripheral.Conn() != conn || dev.Characteristic.ValueHandle() != valueHandle {
		return
	}
	n.show(data, true)
}

// Run steps every NavInterval until ctx is done. Recoverable failures are
// retried after RetryDelay; MaxFailures consecutive failures halt the loop
// with ErrHalted. Desynchronization and other fatal errors end it at once.
func (n *Navigator) Run(ctx context.Context) error {
	n.failures = 0
	for {
		err := n.Step(ctx)
		if err == nil {
			n.failures = 0
			if err := n.idle(ctx, n.opts.NavInterval); err != nil {
				return err
			}
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !recoverable(err) {
			return err
		}

		n.failures++
		n.logger.WithFields(logrus.Fields{
			"failures": n.failures,
			"max":      n.opts.MaxFailures,
			"error":    err,
		}).Warn("Navigation step failed")
		if n.failures >= n.opts.MaxFailures {
			return fmt.Errorf("%w after %d consecutive failures: %v", ErrHalted, n.failures, err)
		}
		if err := n.idle(ctx, n.opts.RetryDelay); err != nil {
			return err
		}
	}
}

// idle waits for d while delivering notifications.
func (n *Navigator) idle(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(n.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return n.central.Poll()
		case <-ticker.C:
			if err := n.central.Poll(); err != nil {
				return err
			}
		}
	}
}

func recoverable(err error) bool {
	return errors.Is(err, ErrTargetNotFound) || gattc.IsRecoverable(err)
}
