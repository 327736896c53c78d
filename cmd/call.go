package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sivaratrisrinivas/TabTalk/internal/config"
	"github.com/sivaratrisrinivas/TabTalk/internal/logging"
	"github.com/sivaratrisrinivas/TabTalk/internal/negotiation"
	"github.com/sivaratrisrinivas/TabTalk/internal/ui"
)

var (
	flagServer    string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagRelay     bool
	flagLogFile   string
	flagAutoStart bool
	flagHeadless  bool
)

var callCmd = &cobra.Command{
	Use:     "call [room]",
	Aliases: []string{"c"},
	Short:   "Join a room and start or answer a call",
	Long: `Join a room on the relay and negotiate a call with the other participant.

The room can be an id, a #fragment or a full URL with a fragment.

Examples:
  tabtalk call team-standup
  tabtalk call "https://tabtalk.example.com/#team-standup"
  tabtalk call --server wss://relay.example.com/ws --relay --turn turn:turn.example.com:3478 --turn-user u --turn-pass p
  tabtalk call --headless --auto-start main`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var room string
		if len(args) == 1 {
			room = args[0]
		}
		return runCall(cmd.Context(), room)
	},
}

func init() {
	callCmd.Flags().StringVarP(&flagServer, "server", "s", "", "Relay websocket URL (default ws://localhost:3000/ws)")
	callCmd.Flags().StringVar(&flagSTUN, "stun", "", "Comma separated STUN URLs")
	callCmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server URL")
	callCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	callCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN credential")
	callCmd.Flags().BoolVar(&flagRelay, "relay", false, "Only use TURN relay candidates")
	callCmd.Flags().StringVar(&flagLogFile, "log-file", "tabtalk.log", "Log file used while the call screen owns the terminal")
	callCmd.Flags().BoolVar(&flagAutoStart, "auto-start", false, "Start the call as soon as the room is joined")
	callCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Print status lines instead of the interactive screen")
	rootCmd.AddCommand(callCmd)
}

func runCall(ctx context.Context, room string) error {
	cfg, err := config.Load(config.Options{
		ServerURL:   flagServer,
		Room:        room,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		DetectRelay: true,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.ForceRelay && cfg.TURN == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	if !flagHeadless {
		closer, err := logging.ToFile(flagLogFile)
		if err != nil {
			return err
		}
		defer closer.Close()
	}
	logger := slog.Default().With("room", cfg.Room)

	session, err := JoinRoom(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	// Relay signals must be consumed as soon as the join is acknowledged.
	var (
		tuiObs      *ui.Observer
		headlessObs *printObserver
		obs         negotiation.Observer
	)
	if flagHeadless {
		headlessObs = &printObserver{log: logger}
		obs = headlessObs
	} else {
		tuiObs = ui.NewObserver()
		obs = tuiObs
	}
	if err := session.StartController(ctx, obs); err != nil {
		return err
	}

	info := ui.RoomInfo{RoomID: cfg.Room, ServerURL: cfg.ServerURL}
	fmt.Println()
	fmt.Println(info.View())
	fmt.Println(ui.ICEServerTable(cfg.ICEServers(), cfg.ICETransportPolicy()))

	if flagAutoStart {
		go startCall(ctx, session)
	}
	if flagHeadless {
		return runHeadless(ctx, session, headlessObs)
	}
	return ui.RunCall(ctx, ui.NewCallModel(session.Controller, tuiObs, info))
}

func startCall(ctx context.Context, s *CallSession) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.Controller.StartCall(ctx); err != nil {
		s.log.Warn("auto start failed", "error", err)
	}
}

func runHeadless(ctx context.Context, s *CallSession, obs *printObserver) error {
	started := time.Now()

	ui.PrintInfo("Waiting for the call. Press Ctrl+C to hang up.")
	select {
	case <-ctx.Done():
	case <-s.Client.Done():
		ui.PrintWarning("Relay connection closed")
	}

	fmt.Println()
	ui.RenderCallSummary(obs.summary(s.Config.Room, time.Since(started)))
	return nil
}

// printObserver reports controller notifications as status lines.
type printObserver struct {
	log *slog.Logger

	mu     sync.Mutex
	status string
	tracks []negotiation.RemoteTrack
}

func (o *printObserver) StatusChanged(status negotiation.Status, text string) {
	o.mu.Lock()
	o.status = text
	o.mu.Unlock()

	o.log.Info("call status", "status", string(status), "text", text)
	switch status {
	case negotiation.StatusConnected:
		ui.PrintSuccess(text)
	default:
		ui.PrintInfo(text)
	}
}

func (o *printObserver) RemoteTrack(track negotiation.RemoteTrack) {
	o.mu.Lock()
	o.tracks = append(o.tracks, track)
	o.mu.Unlock()
	ui.PrintInfof("Receiving remote %s", track.Kind())
}

func (o *printObserver) RemoteMediaState(state negotiation.MediaState) {
	ui.PrintInfof("Peer media: audio=%t video=%t screen=%t", state.Audio, state.Video, state.Screen)
}

func (o *printObserver) summary(room string, d time.Duration) ui.CallSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ui.CallSummary{
		Room:     room,
		Status:   o.status,
		Duration: d,
		Tracks:   append([]negotiation.RemoteTrack(nil), o.tracks...),
	}
}
