package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/srg/navble/internal/navigation"
	"github.com/srg/navble/internal/radio"
	"github.com/srg/navble/internal/radio/radiotest"
)

// Test device addresses for consistent simulated device identification
const (
	phoneAddress = "5a:11:22:33:44:55"
	boxAddress   = "c0:ff:ee:00:00:01"
)

// Timings small enough to keep command tests fast.
const testConfig = `
log_level: error
timeout: 300ms
poll_interval: 1ms
scan_window: 20ms
setup_timeout: 100ms
nav_interval: 20ms
retry_delay: 5ms
max_failures: 2
`

// instruction is an encoded update: id 1, direction -5, 1234 m, "Main St".
var instruction = append([]byte{0x01, 0x00, 0x00, 0x00, 0xfb, 0xd2, 0x04, 0x00, 0x00}, "Main St"...)

// CommandTestSuite runs commands against a simulated radio stack.
type CommandTestSuite struct {
	suite.Suite

	stack       *radiotest.Stack
	configPath  string
	origFactory func(*logrus.Logger) (radio.Stack, error)
	stderr      *bytes.Buffer
}

func (s *CommandTestSuite) SetupTest() {
	s.configPath = filepath.Join(s.T().TempDir(), "navble.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(testConfig), 0o600))

	s.stack = radiotest.NewStack()
	s.origFactory = stackFactory
	stackFactory = func(*logrus.Logger) (radio.Stack, error) {
		return s.stack, nil
	}
	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	stackFactory = s.origFactory
}

// Phone builds a peripheral advertising the navigation signature.
func (s *CommandTestSuite) Phone() *radiotest.Peripheral {
	target := navigation.DefaultTarget()
	return radiotest.NewPeripheralBuilder(phoneAddress).
		WithRandomAddress().
		WithRSSI(-40).
		WithName("Pixel 7").
		WithAdvRecord(target.Tag, target.Signature).
		WithService("1800").
		WithCharacteristic("2a00", "read", []byte("Pixel 7")).
		WithService(navigation.KomootServiceUUID).
		WithCharacteristic(navigation.KomootCharacteristicUUID, "read,notify", instruction).
		Build()
}

// Box builds a plain peripheral with a name and a battery level.
func (s *CommandTestSuite) Box() *radiotest.Peripheral {
	return radiotest.NewPeripheralBuilder(boxAddress).
		WithRSSI(-70).
		WithName("headphones").
		WithService("1800").
		WithCharacteristic("2a00", "read", []byte("Nav Box")).
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{0x05}).
		Build()
}

// ExecuteCommand runs the root command with args and the test config.
// It returns stdout; log output is kept in s.stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	s.stderr = new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(s.stderr)
	rootCmd.SetArgs(append(args, "--config", s.configPath))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if err := f.Value.Set(f.DefValue); err != nil {
			panic(fmt.Sprintf("reset flag %s: %v", f.Name, err))
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
