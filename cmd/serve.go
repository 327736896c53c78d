package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/sivaratrisrinivas/TabTalk/internal/config"
	"github.com/sivaratrisrinivas/TabTalk/internal/logging"
	"github.com/sivaratrisrinivas/TabTalk/internal/metrics"
	"github.com/sivaratrisrinivas/TabTalk/internal/relay"
	"github.com/sivaratrisrinivas/TabTalk/internal/server"
)

var (
	flagAddr            string
	flagStrictRooms     bool
	flagMaxMessageBytes int64
	flagAllowedOrigins  string
	flagShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay server",
	Long: `Run the websocket relay that forwards signaling messages between the
members of a room.

Examples:
  tabtalk serve
  tabtalk serve --addr :8080 --strict-rooms
  tabtalk serve --allowed-origins https://call.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default :3000)")
	serveCmd.Flags().BoolVar(&flagStrictRooms, "strict-rooms", false, "Reject messages without a room instead of broadcasting them")
	serveCmd.Flags().Int64Var(&flagMaxMessageBytes, "max-message-bytes", 0, "Largest accepted websocket message (default 65536)")
	serveCmd.Flags().StringVar(&flagAllowedOrigins, "allowed-origins", "", "Comma separated origins allowed to connect (default all)")
	serveCmd.Flags().DurationVar(&flagShutdownTimeout, "shutdown-timeout", 0, "Grace period for open requests on shutdown (default 10s)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	logging.DefaultLevel(slog.LevelInfo)
	logger := slog.Default()

	cfg, err := config.LoadServer(config.ServerOptions{
		ListenAddr:      flagAddr,
		StrictRooms:     flagStrictRooms,
		MaxMessageBytes: flagMaxMessageBytes,
		AllowedOrigins:  flagAllowedOrigins,
		ShutdownTimeout: flagShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	m := metrics.New()
	hub := relay.NewHub(relay.Options{
		StrictRooms:     cfg.StrictRooms,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, m, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := server.New(cfg, hub, m, logger)
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(l)
	}()

	select {
	case err := <-served:
		if !errors.Is(err, server.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down relay server", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	stopHub()
	<-hub.Done()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
