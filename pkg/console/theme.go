package console

import (
	"github.com/charmbracelet/lipgloss"
)

// Warm base16 palette
var (
	ColorBase03 = lipgloss.Color("#5c5044")
	ColorBase05 = lipgloss.Color("#ab937b")
	ColorBase07 = lipgloss.Color("#f5d7b9")

	ColorRed    = lipgloss.Color("#d95f5f")
	ColorOrange = lipgloss.Color("#eb8755")
	ColorYellow = lipgloss.Color("#f5b761")
	ColorGreen  = lipgloss.Color("#93b56b")
	ColorCyan   = lipgloss.Color("#61afaf")
	ColorPurple = lipgloss.Color("#976bb5")

	ColorError = ColorRed
	ColorMuted = ColorBase03
	ColorFocus = ColorOrange
)

// Styles holds the lipgloss styles used by the presenter
type Styles struct {
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Text           lipgloss.Style
	Error          lipgloss.Style
	Muted          lipgloss.Style
	Tool           lipgloss.Style
	Agent          lipgloss.Style
	Prompt         lipgloss.Style
	CodeBlock      lipgloss.Style
	InlineCode     lipgloss.Style
}

func DefaultStyles() *Styles {
	return &Styles{
		UserLabel: lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true),

		AssistantLabel: lipgloss.NewStyle().
			Foreground(ColorFocus).
			Bold(true),

		Text: lipgloss.NewStyle().
			Foreground(ColorBase07),

		Error: lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Italic(true),

		Tool: lipgloss.NewStyle().
			Foreground(ColorGreen),

		Agent: lipgloss.NewStyle().
			Foreground(ColorPurple),

		Prompt: lipgloss.NewStyle().
			Foreground(ColorFocus).
			Bold(true),

		// left rule only so copied code stays clean
		CodeBlock: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorYellow).
			PaddingLeft(1),

		InlineCode: lipgloss.NewStyle().
			Foreground(ColorYellow),
	}
}

// PlainStyles renders everything unstyled
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		UserLabel:      plain,
		AssistantLabel: plain,
		Text:           plain,
		Error:          plain,
		Muted:          plain,
		Tool:           plain,
		Agent:          plain,
		Prompt:         plain,
		CodeBlock:      plain,
		InlineCode:     plain,
	}
}
