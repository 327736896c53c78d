package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sivaratrisrinivas/TabTalk/internal/negotiation"
	"github.com/sivaratrisrinivas/TabTalk/internal/peer"
)

const actionTimeout = 10 * time.Second

// CallActions are the call operations the screen triggers from key presses.
type CallActions interface {
	StartCall(ctx context.Context) error
	Hangup(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	ShareScreen(ctx context.Context) error
	RestartICE(ctx context.Context) error
}

type (
	statusMsg struct {
		status negotiation.Status
		text   string
	}
	remoteTrackMsg struct {
		track negotiation.RemoteTrack
	}
	remoteStateMsg struct {
		state negotiation.MediaState
	}
	actionMsg struct {
		action  string
		enabled bool
		err     error
	}
	TickMsg time.Time
)

// Observer feeds controller notifications into the call screen. Updates are
// dropped if the screen falls too far behind.
type Observer struct {
	updates chan tea.Msg
}

func NewObserver() *Observer {
	return &Observer{updates: make(chan tea.Msg, 128)}
}

func (o *Observer) StatusChanged(status negotiation.Status, text string) {
	o.push(statusMsg{status: status, text: text})
}

func (o *Observer) RemoteTrack(track negotiation.RemoteTrack) {
	o.push(remoteTrackMsg{track: track})
}

func (o *Observer) RemoteMediaState(state negotiation.MediaState) {
	o.push(remoteStateMsg{state: state})
}

func (o *Observer) push(msg tea.Msg) {
	select {
	case o.updates <- msg:
	default:
	}
}

// CallModel is the Bubble Tea model for an ongoing call.
type CallModel struct {
	actions CallActions
	updates <-chan tea.Msg
	done    chan struct{}

	room    RoomInfo
	spinner spinner.Model

	status     negotiation.Status
	statusText string

	// Local state is tracked from action results.
	local      negotiation.MediaState
	remote     negotiation.MediaState
	remoteSeen bool
	tracks     []negotiation.RemoteTrack

	lastErr  string
	quitting bool
}

func NewCallModel(actions CallActions, obs *Observer, room RoomInfo) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		actions:    actions,
		updates:    obs.updates,
		done:       make(chan struct{}),
		room:       room,
		spinner:    s,
		status:     negotiation.StatusDisconnected,
		statusText: negotiation.TextReady,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m *CallModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.updates:
			return update
		case <-m.done:
			return nil
		}
	}
}

func (m *CallModel) run(action string, fn func(ctx context.Context) (bool, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		enabled, err := fn(ctx)
		return actionMsg{action: action, enabled: enabled, err: err}
	}
}

func noState(fn func(context.Context) error) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return false, fn(ctx)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd := m.handleKey(msg.String()); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case TickMsg:
		if !m.quitting {
			cmds = append(cmds, tickCmd())
		}

	case statusMsg:
		m.status = msg.status
		m.statusText = msg.text
		if msg.status == negotiation.StatusDisconnected && msg.text != negotiation.TextConnectionFailed {
			m.tracks = nil
			m.remoteSeen = false
		}
		cmds = append(cmds, m.waitForUpdates())

	case remoteTrackMsg:
		m.tracks = append(m.tracks, msg.track)
		cmds = append(cmds, m.waitForUpdates())

	case remoteStateMsg:
		m.remote = msg.state
		m.remoteSeen = true
		cmds = append(cmds, m.waitForUpdates())

	case actionMsg:
		m.applyAction(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m *CallModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		if !m.quitting {
			m.quitting = true
			close(m.done)
		}
		return tea.Quit
	case "s":
		return m.run("start", noState(m.actions.StartCall))
	case "h":
		return m.run("hangup", noState(m.actions.Hangup))
	case "m":
		return m.run("mute", m.actions.ToggleMute)
	case "v":
		return m.run("video", m.actions.ToggleVideo)
	case "d":
		return m.run("share", noState(m.actions.ShareScreen))
	case "r":
		return m.run("restart", noState(m.actions.RestartICE))
	}
	return nil
}

func (m *CallModel) applyAction(msg actionMsg) {
	if msg.err != nil {
		m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		return
	}
	m.lastErr = ""

	switch msg.action {
	case "start":
		m.local = negotiation.MediaState{Audio: true, Video: true}
	case "hangup":
		m.local = negotiation.MediaState{}
	case "mute":
		m.local.Audio = msg.enabled
	case "video":
		m.local.Video = msg.enabled
	case "share":
		m.local.Screen = !m.local.Screen
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s TabTalk - %s", IconCall, m.room.RoomID)) + "\n")
	b.WriteString(m.viewStatus() + "\n\n")

	b.WriteString(BoxStyle.Render(
		BoldStyle.Render("You") + "\n" + mediaLine(m.local) + "\n\n" +
			BoldStyle.Render(IconPeer+" Peer") + "\n" + m.viewRemote(),
	))
	b.WriteString("\n")

	if len(m.tracks) > 0 {
		b.WriteString("\n" + m.viewTracks() + "\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n" + ErrorStyle.Render(IconError+" "+m.lastErr) + "\n")
	}

	b.WriteString(FooterStyle.Render(keyHelp()))
	return ContainerStyle.Render(b.String())
}

func (m *CallModel) viewStatus() string {
	switch m.status {
	case negotiation.StatusConnecting:
		return fmt.Sprintf("%s %s", m.spinner.View(), m.statusText)
	case negotiation.StatusConnected:
		return SuccessStyle.Render(IconSuccess + " " + m.statusText)
	}
	if m.statusText == negotiation.TextConnectionFailed || m.statusText == negotiation.TextSetupFailed ||
		m.statusText == negotiation.TextPermissionBlocked {
		return ErrorStyle.Render(IconError + " " + m.statusText)
	}
	return MutedStyle.Render(m.statusText)
}

func (m *CallModel) viewRemote() string {
	if !m.remoteSeen {
		return MutedStyle.Render("waiting for peer")
	}
	return mediaLine(m.remote)
}

func (m *CallModel) viewTracks() string {
	rows := make([][]string, 0, len(m.tracks))
	for _, t := range m.tracks {
		packets, bytes := "-", "-"
		if st, ok := t.(interface{ Stats() peer.TrackStats }); ok {
			s := st.Stats()
			packets = fmt.Sprintf("%d", s.Packets)
			bytes = formatBytes(s.Bytes)
		}
		rows = append(rows, []string{t.Kind().String(), truncate(t.ID(), 24), packets, bytes})
	}
	return styledTable([]string{"Kind", "Track", "Packets", "Received"}, rows)
}

func mediaLine(st negotiation.MediaState) string {
	mic := IconMuted + " muted"
	if st.Audio {
		mic = IconMic + " mic on"
	}
	cam := MutedStyle.Render(IconCamera + " camera off")
	if st.Video {
		cam = IconCamera + " camera on"
	}
	line := mic + "   " + cam
	if st.Screen {
		line += "   " + WarningStyle.Render(IconScreen+" sharing screen")
	}
	return line
}

func keyHelp() string {
	keys := []struct{ key, help string }{
		{"s", "call"}, {"h", "hang up"}, {"m", "mute"}, {"v", "video"},
		{"d", "share screen"}, {"r", "restart ICE"}, {"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = KeyStyle.Render(k.key) + " " + k.help
	}
	return strings.Join(parts, "  ")
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// RunCall blocks until the call screen exits or ctx is cancelled.
func RunCall(ctx context.Context, model *CallModel) error {
	p := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("call screen: %w", err)
	}
	return nil
}
