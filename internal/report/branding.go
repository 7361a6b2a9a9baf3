package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

const AppName = "covers"

// LogoLines is the banner wordmark.
var LogoLines = []string{
	"▄▀▀▀ ▄▀▀▄ █  █ █▀▀▀ █▀▀▄ ▄▀▀▀",
	"█    █  █ █  █ █▀▀  █▄▄▀  ▀▀▄",
	"▀▄▄▄ ▀▄▄▀  ▀▀  █▄▄▄ █  █ ▄▄▄▀",
}

// Banner gradient colors
var BannerColors = []lipgloss.Color{
	lipgloss.Color("#FF6B6B"),
	lipgloss.Color("#FFA86B"),
	lipgloss.Color("#95E1D3"),
	lipgloss.Color("#4ECDC4"),
}

// Newsprint at dawn: ink, paper and the morning edition's accent colors.
var (
	PrimaryColor   = lipgloss.Color("#FF6B6B")
	SecondaryColor = lipgloss.Color("#4ECDC4")
	AccentColor    = lipgloss.Color("#95E1D3")

	TextColor  = lipgloss.Color("#EAEAEA")
	MutedColor = lipgloss.Color("#94A3B8")

	WarnColor    = lipgloss.Color("#FFE66D")
	ErrorColor   = lipgloss.Color("#EF4444")
	SuccessColor = lipgloss.Color("#10B981")
)

var (
	LogoStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	StatusInfoStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	StatusSuccessStyle = lipgloss.NewStyle().
				Foreground(SuccessColor)

	StatusWarnStyle = lipgloss.NewStyle().
			Foreground(WarnColor)

	StatusErrorStyle = lipgloss.NewStyle().
				Foreground(ErrorColor).
				Bold(true)
)

// StatusKind indicates severity for one-line status messages.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)

var statusMarks = map[StatusKind]string{
	StatusInfo:    "·",
	StatusSuccess: "✓",
	StatusWarn:    "!",
	StatusError:   "✗",
}

// Status renders a marked, colored one-line message.
func Status(kind StatusKind, format string, args ...any) string {
	style := StatusInfoStyle
	switch kind {
	case StatusSuccess:
		style = StatusSuccessStyle
	case StatusWarn:
		style = StatusWarnStyle
	case StatusError:
		style = StatusErrorStyle
	}
	return style.Render(statusMarks[kind] + " " + fmt.Sprintf(format, args...))
}

// ShowBanner writes the boxed logo and version tagline to w.
func ShowBanner(w io.Writer, version string) {
	lines := make([]string, len(LogoLines)+1)
	copy(lines, LogoLines)

	tagline := "    Daily Front Pages"
	if version != "" && version != "dev" {
		if version[0] != 'v' && version[0] != 'V' {
			version = "v" + version
		}
		tagline += " " + version
	}
	lines = append(lines, tagline)

	var colored []string
	for i, line := range lines {
		if line == "" {
			colored = append(colored, line)
			continue
		}
		style := lipgloss.NewStyle().
			Foreground(BannerColors[i%len(BannerColors)]).
			Bold(i < len(LogoLines))
		colored = append(colored, style.Render(line))
	}

	border := lipgloss.Border{
		Top:         "═",
		Bottom:      "═",
		Left:        "║",
		Right:       "║",
		TopLeft:     "╔",
		TopRight:    "╗",
		BottomLeft:  "╚",
		BottomRight: "╝",
	}
	boxed := lipgloss.NewStyle().
		Border(border).
		BorderForeground(SecondaryColor).
		Padding(1, 3).
		MarginTop(1).
		Render(lipgloss.JoinVertical(lipgloss.Center, colored...))

	fmt.Fprintln(w, lipgloss.NewStyle().Width(70).Align(lipgloss.Center).Render(boxed))
	fmt.Fprintln(w, lipgloss.NewStyle().
		Width(70).
		Align(lipgloss.Center).
		MarginBottom(1).
		Render(lipgloss.NewStyle().Foreground(AccentColor).Render("◆ ◇ ◆ ◇ ◆")))
}
