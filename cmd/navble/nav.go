package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/navble/internal/navigation"
)

// navCmd represents the nav command
var navCmd = &cobra.Command{
	Use:   "nav",
	Short: "Follow navigation instructions from the phone",
	Long: `Searches for a phone advertising the navigation signature, subscribes to
its instruction characteristic and prints every instruction.

The loop reconnects after connection loss and halts after max_failures
consecutive failures. Timings and the target are read from --config.`,
	Args: cobra.NoArgs,
	RunE: runNav,
}

var navOnce bool

func init() {
	navCmd.Flags().BoolVar(&navOnce, "once", false, "Print the current instruction and exit")
}

// consoleDisplay prints navigation output, one line per update.
type consoleDisplay struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	distance *color.Color
	message  *color.Color
}

func newConsoleDisplay(out io.Writer) *consoleDisplay {
	return &consoleDisplay{
		out:      out,
		now:      time.Now,
		distance: color.New(color.FgCyan, color.Bold),
		message:  color.New(color.FgYellow),
	}
}

func (d *consoleDisplay) ShowNavigation(u navigation.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	street := u.Street
	if street == "" {
		street = "-"
	}
	fmt.Fprintf(d.out, "[%s] dir %d  %s  %s\n",
		d.now().Format("15:04:05"), u.Direction, d.distance.Sprint(navigation.FormatDistance(u.Distance)), street)
}

func (d *consoleDisplay) ShowMessage(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "[%s] %s\n", d.now().Format("15:04:05"), d.message.Sprint(msg))
}

func runNav(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	target, err := cfg.NavigationTarget()
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger := configureLogger(cmd, cfg)
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	display := newConsoleDisplay(cmd.OutOrStdout())
	nav := navigation.NewNavigator(client, display, target, cfg.NavigatorOptions(), logger)
	client.SetNotifyCallback(nav.HandleNotify)
	defer client.SetNotifyCallback(nil)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if navOnce {
		return nav.Step(ctx)
	}
	return nav.Run(ctx)
}
