package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/trainyard/pkg/client"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trainyard",
	Short: "Trainyard - GPU node ledger and training task scheduler",
	Long: `Trainyard keeps a ledger of GPU nodes and their free memory, places
training tasks on the node with the most room, hands them to a training
coordinator and collects the trained model when the coordinator calls back.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Trainyard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
}

// addAPIFlag registers the --api flag on commands that talk to a running server
func addAPIFlag(cmd *cobra.Command) {
	cmd.Flags().String("api", "localhost:8000", "Trainyard API address")
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api")
	return client.NewClient(addr)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 2*time.Minute)
}
