package ui

import (
	"fmt"
	"time"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sivaratrisrinivas/TabTalk/internal/negotiation"
	"github.com/sivaratrisrinivas/TabTalk/internal/peer"
)

// CallSummary is printed when a headless call exits.
type CallSummary struct {
	Room     string
	Status   string
	Duration time.Duration
	Tracks   []negotiation.RemoteTrack
}

func CallSummaryView(s CallSummary) string {
	t := prettytable.NewWriter()
	t.SetTitle("📊 Call Summary")
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Align = text.AlignCenter

	t.AppendRow(prettytable.Row{"Room", s.Room})
	t.AppendRow(prettytable.Row{"Status", s.Status})
	t.AppendRow(prettytable.Row{"Duration", s.Duration.Round(time.Second).String()})

	for _, track := range s.Tracks {
		stats := "-"
		if st, ok := track.(interface{ Stats() peer.TrackStats }); ok {
			ts := st.Stats()
			stats = fmt.Sprintf("%d packets, %s", ts.Packets, formatBytes(ts.Bytes))
		}
		t.AppendRow(prettytable.Row{"Remote " + track.Kind().String(), stats})
	}

	return t.Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println(CallSummaryView(s))
}
