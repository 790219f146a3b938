package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pubsub/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pubsub-tail",
		Short: "Follow channels of a pub/sub server over WebSocket",
		Long: `pubsub-tail connects to a Centrifugo-compatible server, subscribes
to channels and prints every publication it receives.

The connection is supervised: when it drops, stays silent past the
watchdog timeout or is closed by the server, a new session is opened.

Publications can also be archived to an S3 bucket and the client
exposes Prometheus metrics and a health endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runCmd(),
		initCmd(),
		versionCmd(),
	)
	return root
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
