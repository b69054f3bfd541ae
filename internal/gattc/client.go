// Package gattc is a synchronous GATT central on top of an asynchronous
// radio stack.
//
// Every procedure follows one pattern: clear the connection's scratch cache,
// mark the gate busy, trigger the stack, and wait. Radio events are queued by
// HandleEvent from whatever goroutine the stack uses and are routed only at
// poll points on the caller's goroutine, inside Gate.Wait and Client.Poll.
// The object graph is therefore mutated by one goroutine only.
package gattc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/navble/internal/radio"
)

// DefaultTimeout is the budget of a single procedure.
const DefaultTimeout = 30 * time.Second

// NotifyFunc receives notifications. It runs on the client's goroutine while
// events are drained and must not start procedures itself.
type NotifyFunc func(conn radio.ConnHandle, valueHandle uint16, data []byte)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-procedure budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets the gate polling granularity.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithInboxSize sets the number of radio events buffered between poll points.
func WithInboxSize(n uint32) Option {
	return func(c *Client) {
		if n > 0 {
			c.inboxSize = n
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifyCallback installs the notification callback.
func WithNotifyCallback(fn NotifyFunc) Option {
	return func(c *Client) {
		c.notify = fn
	}
}

// Client is the synchronous facade over a radio.Stack.
//
// Procedures must be issued from a single goroutine. HandleEvent,
// Connections, Peripheral and SetNotifyCallback may be called from any
// goroutine.
type Client struct {
	stack        radio.Stack
	logger       *logrus.Logger
	timeout      time.Duration
	pollInterval time.Duration
	inboxSize    uint32

	gate  *Gate
	inbox *inbox
	conns *hashmap.Map[radio.ConnHandle, *Peripheral]

	// Owned by the client's goroutine.
	pending       expectation
	scan          *ScanTable
	lastConnected *Peripheral
	closed        bool

	notifyMu sync.RWMutex
	notify   NotifyFunc
}

// NewClient installs the client as the stack's event handler and activates the stack.
func NewClient(stack radio.Stack, opts ...Option) (*Client, error) {
	c := &Client{
		stack:        stack,
		logger:       logrus.New(),
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		inboxSize:    DefaultInboxSize,
		conns:        hashmap.New[radio.ConnHandle, *Peripheral](),
		scan:         newScanTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inbox = newInbox(c.inboxSize, c.logger)
	c.gate = NewGate(c.pollInterval, c.drain)

	stack.SetHandler(c.HandleEvent)
	if err := stack.Active(true); err != nil {
		stack.SetHandler(nil)
		return nil, fmt.Errorf("failed to activate radio: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"timeout":       c.timeout,
		"poll_interval": c.pollInterval,
		"inbox_size":    c.inboxSize,
	}).Debug("GATT client ready")
	return c, nil
}

// HandleEvent queues a radio event. Safe from any goroutine.
func (c *Client) HandleEvent(e radio.Event) {
	c.inbox.put(e)
}

// Poll routes the queued events outside of a procedure, e.g. to deliver
// notifications while idle.
func (c *Client) Poll() error {
	return c.drain()
}

func (c *Client) drain() error {
	return c.inbox.drain(c.route)
}

// SetNotifyCallback replaces the notification callback; nil disables it.
func (c *Client) SetNotifyCallback(fn NotifyFunc) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify = fn
}

func (c *Client) notifyCallback() NotifyFunc {
	c.notifyMu.RLock()
	defer c.notifyMu.RUnlock()
	return c.notify
}

// Peripheral returns the peripheral tracked for a connection handle.
func (c *Client) Peripheral(conn radio.ConnHandle) (*Peripheral, bool) {
	return c.conns.Get(conn)
}

// Connections returns the connected peripherals ordered by handle.
func (c *Client) Connections() []*Peripheral {
	var out []*Peripheral
	c.conns.Range(func(_ radio.ConnHandle, p *Peripheral) bool {
		if p.Connected() {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].conn < out[j].conn })
	return out
}

// Timeout returns the per-procedure budget.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Scan scans for duration and returns the advertisements seen, first
// sighting per address. The wait budget is duration plus the procedure
// timeout. On timeout the partial table is returned with the error.
func (c *Client) Scan(ctx context.Context, duration time.Duration) (*ScanTable, error) {
	c.scan = newScanTable()
	table := c.scan

	c.logger.WithField("duration", duration).Info("Scanning...")
	err := c.run(ctx, expectation{proc: procScan}, nil, duration+c.timeout, func() error {
		return c.stack.Scan(duration)
	})
	if err != nil {
		return table, err
	}
	c.logger.WithField("device_count", table.Len()).Info("Scan completed")
	return table, nil
}

// Connect connects to a peripheral. A connection the stack reports as failed
// yields a ConnectionError with state ConnectionFailed.
func (c *Client) Connect(ctx context.Context, addrType radio.AddrType, addr radio.Address) (*Peripheral, error) {
	c.lastConnected = nil

	c.logger.WithFields(logrus.Fields{
		"addr":      addr,
		"addr_type": addrType,
	}).Info("Connecting...")
	err := c.run(ctx, expectation{proc: procConnect, addr: addr}, nil, c.timeout, func() error {
		return c.stack.Connect(addrType, addr)
	})
	if err != nil {
		return nil, err
	}

	p := c.lastConnected
	if p == nil {
		return nil, &ConnectionError{State: ConnectionFailed, Msg: fmt.Sprintf("connection to %s failed", addr)}
	}
	c.logger.WithFields(logrus.Fields{
		"addr": addr,
		"conn": p.conn,
	}).Info("Connected")
	return p, nil
}

// Close deactivates the stack. Procedures fail with ErrClosed afterwards.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.stack.Active(false); err != nil {
		return fmt.Errorf("failed to deactivate radio: %w", err)
	}
	return nil
}

// run executes one procedure: clear the cache, mark the gate busy, trigger
// and wait for the completion event.
func (c *Client) run(ctx context.Context, exp expectation, cache *Cache, timeout time.Duration, trigger func() error) error {
	if c.closed {
		return ErrClosed
	}
	if c.gate.Busy() {
		return ErrBusy
	}
	if cache != nil {
		cache.Clear()
	}

	c.pending = exp
	c.gate.SetBusy()
	defer func() { c.pending = expectation{} }()

	if err := trigger(); err != nil {
		c.gate.SetClear()
		return fmt.Errorf("failed to start %s: %w", exp.proc, err)
	}

	_, err := c.gate.Wait(ctx, timeout, false)
	switch {
	case err == nil:
		return nil
	case isDesync(err):
		c.logger.WithFields(logrus.Fields{
			"procedure": exp.proc,
			"error":     err,
		}).Error("Radio event stream desynchronized")
		return err
	default:
		c.logger.WithFields(logrus.Fields{
			"procedure": exp.proc,
			"timeout":   timeout,
			"error":     err,
		}).Warn("Procedure did not complete")
		return fmt.Errorf("%s: %w", exp.proc, err)
	}
}
