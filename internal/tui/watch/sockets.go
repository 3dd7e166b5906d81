package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/channelgw/internal/events"
)

// SocketState tracks one live connection discovered from events.
type SocketState struct {
	Owner       string
	SocketID    string
	Transport   string
	ConnectedAt time.Time
	Topics      map[string]time.Time
	Crashes     int
	Rejections  int
}

// updateSocketState applies a lifecycle event to the live socket table.
func updateSocketState(sockets map[string]*SocketState, e events.Event) {
	switch e.Type {
	case events.SocketConnected:
		var d events.SocketData
		if json.Unmarshal(e.Data, &d) != nil || d.Owner == "" {
			return
		}
		sockets[d.Owner] = &SocketState{
			Owner:       d.Owner,
			SocketID:    d.SocketID,
			Transport:   d.Transport,
			ConnectedAt: e.At,
			Topics:      make(map[string]time.Time),
		}

	case events.SocketClosed:
		var d events.SocketData
		if json.Unmarshal(e.Data, &d) == nil {
			delete(sockets, d.Owner)
		}

	case events.ChannelJoined, events.ChannelJoinReject, events.ChannelExited:
		var d events.ChannelData
		if json.Unmarshal(e.Data, &d) != nil {
			return
		}
		s, ok := sockets[d.Owner]
		if !ok {
			// Connected before the stream started.
			s = &SocketState{Owner: d.Owner, Topics: make(map[string]time.Time)}
			sockets[d.Owner] = s
		}
		switch e.Type {
		case events.ChannelJoined:
			s.Topics[d.Topic] = e.At
		case events.ChannelJoinReject:
			s.Rejections++
		case events.ChannelExited:
			delete(s.Topics, d.Topic)
			if !d.Normal {
				s.Crashes++
			}
		}
	}
}

// sortedOwners returns owners oldest connection first.
func sortedOwners(sockets map[string]*SocketState) []string {
	owners := make([]string, 0, len(sockets))
	for owner := range sockets {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		a, b := sockets[owners[i]], sockets[owners[j]]
		if !a.ConnectedAt.Equal(b.ConnectedAt) {
			return a.ConnectedAt.Before(b.ConnectedAt)
		}
		return owners[i] < owners[j]
	})
	return owners
}

func renderSockets(sockets map[string]*SocketState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(sockets) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SOCKETS"),
			theme.Dim.Render("  No connections yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Title.Render("SOCKETS")}
	for i, owner := range sortedOwners(sockets) {
		lines = append(lines, renderSocketRow(sockets[owner], i == selected, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderSocketRow(s *SocketState, isSelected bool, theme Theme) string {
	id := s.SocketID
	if id == "" {
		id = theme.Dim.Render("anonymous")
	}

	topics := make([]string, 0, len(s.Topics))
	for t := range s.Topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	topicStr := theme.Dim.Render("no channels")
	if len(topics) > 0 {
		topicStr = theme.Bound.Render(strings.Join(topics, ", "))
	}

	var flags []string
	if s.Crashes > 0 {
		flags = append(flags, theme.Down.Render(fmt.Sprintf("%d crashed", s.Crashes)))
	}
	if s.Rejections > 0 {
		flags = append(flags, theme.Refused.Render(fmt.Sprintf("%d rejected", s.Rejections)))
	}

	age := ""
	if !s.ConnectedAt.IsZero() {
		age = formatDuration(time.Since(s.ConnectedAt).Round(time.Second))
	}

	nameStyle := lipgloss.NewStyle()
	cursor := "  "
	if isSelected {
		nameStyle = theme.Header
		cursor = "> "
	}

	line := fmt.Sprintf("%s%s %-10s %s  %s %s",
		cursor,
		nameStyle.Render(shortID(s.Owner)),
		s.Transport,
		id,
		topicStr,
		theme.Dim.Render(age),
	)
	if len(flags) > 0 {
		line += "  " + strings.Join(flags, " ")
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
