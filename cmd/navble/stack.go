package main

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/srg/navble/internal/gattc"
	"github.com/srg/navble/internal/radio"
	"github.com/srg/navble/internal/radio/goble"
	"github.com/srg/navble/pkg/config"
)

// stackFactory creates the radio stack (can be overridden in tests)
var stackFactory = func(logger *logrus.Logger) (radio.Stack, error) {
	return goble.New(goble.WithLogger(logger)), nil
}

// newClient opens the radio and returns a client configured from cfg.
func newClient(cfg *config.Config, logger *logrus.Logger, opts ...gattc.Option) (*gattc.Client, error) {
	stack, err := stackFactory(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE stack: %w", err)
	}
	client, err := gattc.NewClient(stack, append(cfg.ClientOptions(logger), opts...)...)
	if err != nil {
		return nil, goble.NormalizeError(err)
	}
	return client, nil
}

// closeClient deactivates the radio, logging instead of failing.
func closeClient(client *gattc.Client, logger *logrus.Logger) {
	if err := client.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close BLE stack")
	}
}

// signalContext returns a context cancelled on Ctrl+C or termination.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}

// parseAddrType maps the --address-type flag.
func parseAddrType(s string) (radio.AddrType, error) {
	switch s {
	case "public":
		return radio.AddrPublic, nil
	case "random":
		return radio.AddrRandom, nil
	default:
		return 0, fmt.Errorf("invalid address type '%s': must be public or random", s)
	}
}
