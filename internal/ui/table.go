package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pion/webrtc/v4"
)

func styledTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// ICEServerTable lists the ICE servers a call will use. Credentials are
// masked.
func ICEServerTable(servers []webrtc.ICEServer, policy webrtc.ICETransportPolicy) string {
	if len(servers) == 0 {
		return MutedStyle.Render("No ICE servers")
	}

	var rows [][]string
	for _, s := range servers {
		kind := "STUN"
		if len(s.URLs) > 0 && strings.HasPrefix(s.URLs[0], "turn") {
			kind = "TURN"
		}
		user := "-"
		if s.Username != "" {
			user = s.Username
		}
		rows = append(rows, []string{kind, strings.Join(s.URLs, "\n"), user})
	}
	out := styledTable([]string{"Type", "URLs", "Username"}, rows)
	if policy == webrtc.ICETransportPolicyRelay {
		out += "\n" + WarningStyle.Render("Relay only: direct candidates disabled")
	}
	return out
}

// RoomInfo is the banner shown once the relay acknowledges the join.
type RoomInfo struct {
	RoomID    string
	ServerURL string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Joined room\n\n%s Room:    %s\n%s Relay:   %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconConnect, MutedStyle.Render(r.ServerURL),
	)
	return InfoBoxStyle.Render(content)
}
