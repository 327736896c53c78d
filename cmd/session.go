package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sivaratrisrinivas/TabTalk/internal/config"
	"github.com/sivaratrisrinivas/TabTalk/internal/media"
	"github.com/sivaratrisrinivas/TabTalk/internal/negotiation"
	"github.com/sivaratrisrinivas/TabTalk/internal/peer"
	"github.com/sivaratrisrinivas/TabTalk/internal/signaling"
	"github.com/sivaratrisrinivas/TabTalk/internal/ui"
)

const joinTimeout = 15 * time.Second

var errJoinTimeout = errors.New("timed out waiting for the relay to acknowledge the join")

// CallSession is a joined relay connection plus the controller negotiating
// the call in that room.
type CallSession struct {
	Config     *config.Config
	Client     *signaling.Client
	Handler    *signaling.Handler
	Controller *negotiation.Controller

	log *slog.Logger
}

// JoinRoom connects to the relay and joins the configured room.
func JoinRoom(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*CallSession, error) {
	spin := ui.NewConnectionSpinner("Connecting to relay...")
	spin.Start()

	client := signaling.NewClient(cfg.ServerURL, logger)
	if err := client.Connect(ctx); err != nil {
		spin.Error("Could not reach the relay")
		return nil, fmt.Errorf("connect to relay: %w", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	s := &CallSession{Config: cfg, Client: client, Handler: handler, log: logger}

	spin.UpdateMessage(fmt.Sprintf("Joining room %s...", cfg.Room))
	if err := s.awaitJoin(ctx); err != nil {
		spin.Error("Could not join the room")
		client.Close()
		return nil, err
	}
	spin.Success(fmt.Sprintf("Joined room %s", cfg.Room))
	return s, nil
}

func (s *CallSession) awaitJoin(ctx context.Context) error {
	if err := s.Client.Join(s.Config.Room); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	timer := time.NewTimer(joinTimeout)
	defer timer.Stop()

	select {
	case room, ok := <-s.Handler.Joined:
		if !ok {
			return fmt.Errorf("join room: %w", signaling.ErrClosed)
		}
		s.log.Debug("joined room", "room", room)
		return nil
	case msg, ok := <-s.Handler.Error:
		if !ok {
			return fmt.Errorf("join room: %w", signaling.ErrClosed)
		}
		return fmt.Errorf("join room: relay error: %s", msg)
	case <-timer.C:
		return errJoinTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartController builds the peer stack and starts negotiating. Signals from
// the relay are fed to the controller until the connection ends.
func (s *CallSession) StartController(ctx context.Context, obs negotiation.Observer) error {
	api, err := peer.NewAPI(s.log)
	if err != nil {
		return fmt.Errorf("create peer api: %w", err)
	}

	s.Controller = negotiation.New(negotiation.Config{
		Room:      s.Config.Room,
		Transport: s.Client,
		Media:     media.NewSource(s.log),
		NewPeer:   peer.Factory(api, s.Config.PeerConfiguration(), s.log),
		Observer:  obs,
		Logger:    s.log,
	})

	go func() {
		if err := s.Controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("controller stopped", "error", err)
		}
	}()
	go s.pump()
	return nil
}

func (s *CallSession) pump() {
	signals, relayErrors := s.Handler.Signal, s.Handler.Error
	for signals != nil || relayErrors != nil {
		select {
		case msg, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			s.Controller.HandleSignal(msg)
		case msg, ok := <-relayErrors:
			if !ok {
				relayErrors = nil
				continue
			}
			s.log.Warn("relay error", "error", msg)
		}
	}
	s.log.Info("relay connection closed")
}

// Close ends the call and the relay connection.
func (s *CallSession) Close() {
	if s.Controller != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.Controller.Hangup(ctx); err != nil && !errors.Is(err, negotiation.ErrControllerStopped) {
			s.log.Debug("hangup on close", "error", err)
		}
		cancel()
	}
	s.Client.Close()
}
