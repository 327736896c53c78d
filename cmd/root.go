package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sivaratrisrinivas/TabTalk/internal/ui"
	"github.com/sivaratrisrinivas/TabTalk/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tabtalk",
	Short: "Two-party WebRTC calls over a tiny room relay",
	Long: `TabTalk connects two participants of a room with a WebRTC audio/video call.

A small websocket relay forwards offers, answers and ICE candidates between
the members of a room. Media flows peer to peer once negotiation completes.`,
	Version: version.Version,
}

// Execute runs the root command. Interrupts cancel the command context so
// servers and calls shut down cleanly. It is called once by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
