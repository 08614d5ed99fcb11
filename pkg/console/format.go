package console

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/killallgit/flowchat/pkg/logger"
)

// SegmentKind tells plain text from fenced code
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentCode
)

// Segment is one run of message content
type Segment struct {
	Kind     SegmentKind
	Content  string
	Language string
}

// SplitSegments cuts markdown content at ``` fences. An unterminated
// fence runs to the end of the content.
func SplitSegments(content string) []Segment {
	var segments []Segment
	var buf []string
	inCode := false
	language := ""

	flush := func(kind SegmentKind) {
		if len(buf) == 0 {
			return
		}
		segments = append(segments, Segment{Kind: kind, Content: strings.Join(buf, "\n"), Language: language})
		buf = nil
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				flush(SegmentCode)
				language = ""
			} else {
				flush(SegmentText)
				language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			}
			inCode = !inCode
			continue
		}
		buf = append(buf, line)
	}
	if inCode {
		flush(SegmentCode)
	} else {
		flush(SegmentText)
	}
	return segments
}

// Formatter renders completed message content for the terminal
type Formatter struct {
	styles    *Styles
	formatter chroma.Formatter
	style     *chroma.Style
}

// NewFormatter creates a formatter. Plain output skips syntax highlighting.
func NewFormatter(s *Styles, plain bool) *Formatter {
	f := formatters.Get("terminal16m")
	if plain || f == nil {
		f = formatters.NoOp
	}
	if s == nil {
		s = DefaultStyles()
	}
	return &Formatter{
		styles:    s,
		formatter: f,
		style:     styles.Get("monokai"),
	}
}

// Format renders content with highlighted code blocks
func (f *Formatter) Format(content string) string {
	segments := SplitSegments(content)
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg.Kind {
		case SegmentCode:
			parts = append(parts, f.FormatCodeBlock(seg.Content, seg.Language))
		default:
			parts = append(parts, f.styles.Text.Render(seg.Content))
		}
	}
	return strings.Join(parts, "\n")
}

// FormatCodeBlock highlights code, guessing the language when unknown
func (f *Formatter) FormatCodeBlock(content, language string) string {
	if content == "" {
		return ""
	}

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(content)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}

	highlighted := content
	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		logger.WithComponent("console").Debug("failed to tokenize code", "language", language, "error", err)
	} else {
		var buf strings.Builder
		if err := f.formatter.Format(&buf, f.style, iterator); err != nil {
			logger.WithComponent("console").Debug("failed to format code", "language", language, "error", err)
		} else {
			highlighted = strings.TrimRight(buf.String(), "\n")
		}
	}

	return f.styles.CodeBlock.Render(highlighted)
}
