// Command arlink is a headless client for EternalLink AR video messages:
// record and send gesture-locked holograms, unlock them with a gesture and
// play them back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eternallink/arlink/internal/config"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// Global flags
var (
	configDir string
	logLevel  string
	logToFile bool
)

var rootCmd = &cobra.Command{
	Use:           "arlink",
	Short:         "EternalLink AR video hologram messaging client",
	Version:       fmt.Sprintf("%s (built %s)", Version, BuildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return app.setup(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configDir, "config", ".", "directory containing "+config.FileName)
	pf.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	pf.BoolVar(&logToFile, "log-file", false, "write logs to a session file in logsDir instead of stdout")

	rootCmd.AddCommand(sendCmd, verifyCmd, playCmd, watchCmd, nearbyCmd, healthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	app.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
