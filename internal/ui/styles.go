package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	Primary   = lipgloss.Color("#22d3ee")
	Secondary = lipgloss.Color("#7C3AED")
	Success   = lipgloss.Color("#10B981")
	Warning   = lipgloss.Color("#F59E0B")
	Error     = lipgloss.Color("#EF4444")
	Muted     = lipgloss.Color("#6B7280")
	Panel     = lipgloss.Color("#1F2937")
)

var (
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	SuccessStyle = BoldStyle.Foreground(Success)
	ErrorStyle   = BoldStyle.Foreground(Error)
	KeyStyle     = BoldStyle.Foreground(Secondary)
	SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)
)

// Call screen layout.
var (
	ContainerStyle = lipgloss.NewStyle().Margin(1, 2)

	HeaderStyle = BoldStyle.
			Foreground(Primary).
			Background(Panel).
			Padding(0, 2).
			MarginBottom(1)

	FooterStyle = lipgloss.NewStyle().Foreground(Muted).MarginTop(1)

	// BoxStyle frames the local and remote media panel.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 2)

	// InfoBoxStyle frames the room banner printed after joining.
	InfoBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Secondary).
			Padding(1, 2)
)

var (
	TableHeaderStyle = BoldStyle.Foreground(Primary).Align(lipgloss.Center)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	TableRowStyle    = tableCellStyle.Foreground(lipgloss.Color("255"))
	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconRoom    = "🚪"
	IconPeer    = "👤"
	IconCall    = "📞"
	IconMic     = "🎙️"
	IconMuted   = "🔇"
	IconCamera  = "📷"
	IconScreen  = "🖥️"
	IconConnect = "🔌"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", IconError, ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", IconWarning, WarningStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", IconSuccess, msg)
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
