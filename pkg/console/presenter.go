package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/killallgit/flowchat/pkg/typewriter"
)

const (
	userLabel      = "you"
	assistantLabel = "bot"
)

// Presenter writes a session to a line oriented terminal. It implements
// chat.Handler: the reply being streamed is revealed through a typewriter
// renderer and its side channels are summarised once the reveal is done.
type Presenter struct {
	out       io.Writer
	styles    *Styles
	formatter *Formatter
	renderer  *typewriter.Renderer

	mu sync.Mutex
	// index of the reply being revealed, -1 before the first one
	active   int
	msg      chat.Message
	printed  int
	finished bool
	settled  chan struct{}

	log *logger.ComponentLogger
}

// PresenterOptions configures a Presenter
type PresenterOptions struct {
	Typewriter typewriter.Config
	Plain      bool
	Clock      typewriter.Clock
}

func NewPresenter(out io.Writer, opts PresenterOptions) *Presenter {
	s := DefaultStyles()
	if opts.Plain {
		s = PlainStyles()
	}
	settled := make(chan struct{})
	close(settled)

	p := &Presenter{
		out:       out,
		styles:    s,
		formatter: NewFormatter(s, opts.Plain),
		active:    -1,
		finished:  true,
		settled:   settled,
		log:       logger.WithComponent("console"),
	}

	rendererOpts := []typewriter.Option{typewriter.WithOnChange(p.reveal)}
	if opts.Clock != nil {
		rendererOpts = append(rendererOpts, typewriter.WithClock(opts.Clock))
	}
	p.renderer = typewriter.NewRenderer(opts.Typewriter, rendererOpts...)
	return p
}

// OnChange implements chat.Handler
func (p *Presenter) OnChange(messages []chat.Message) {
	last, ok := chat.GetLastMessage(messages)
	if !ok || !last.IsAssistant() {
		return
	}
	index := len(messages) - 1

	p.mu.Lock()
	start := false
	switch {
	case index == p.active:
	case last.IsStreaming:
		start = true
		p.active = index
		p.printed = 0
		p.finished = false
		p.settled = make(chan struct{})
	default:
		// history loads and resets are not revealed
		p.mu.Unlock()
		return
	}
	p.msg = last
	if start {
		fmt.Fprint(p.out, p.styles.AssistantLabel.Render(assistantLabel+":")+" ")
	}
	p.mu.Unlock()

	if start {
		p.renderer.Update("", false)
	}
	p.renderer.Update(last.Content, !last.IsStreaming)

	if !last.IsStreaming && (last.Content == "" || p.renderer.Finished()) {
		p.finish()
	}
}

// OnComplete implements chat.Handler
func (p *Presenter) OnComplete(msg chat.Message) {
	p.log.Debug("reply complete", "message_id", msg.ID, "length", len(msg.Content))
}

// OnError implements chat.Handler
func (p *Presenter) OnError(err error) {
	p.log.Warn("session error", "error", err)
}

// reveal receives the renderer's displayed prefix
func (p *Presenter) reveal(displayed string) {
	p.mu.Lock()
	if !p.finished && len(displayed) > p.printed {
		io.WriteString(p.out, displayed[p.printed:])
		p.printed = len(displayed)
	}
	p.mu.Unlock()

	if p.renderer.Finished() {
		p.finish()
	}
}

// finish writes the footer of the active reply once
func (p *Presenter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true

	// a reply revealed past what the renderer showed, e.g. after Close
	if p.printed < len(p.msg.Content) {
		io.WriteString(p.out, p.msg.Content[p.printed:])
		p.printed = len(p.msg.Content)
	}
	io.WriteString(p.out, "\n")
	if footer := p.footer(p.msg); footer != "" {
		io.WriteString(p.out, footer+"\n")
	}
	close(p.settled)
}

// Skip reveals everything received so far at once
func (p *Presenter) Skip() {
	p.renderer.Complete()
}

// Wait blocks until the active reply is fully revealed
func (p *Presenter) Wait(ctx context.Context) error {
	p.mu.Lock()
	settled := p.settled
	p.mu.Unlock()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the renderer and flushes a pending reply
func (p *Presenter) Close() {
	p.renderer.Close()
	p.finish()
}

// Output is the writer the presenter draws on
func (p *Presenter) Output() io.Writer {
	return p.out
}

// Prompt returns the styled input prompt
func (p *Presenter) Prompt() string {
	return p.styles.Prompt.Render(userLabel+">") + " "
}

// Notice writes an informational line
func (p *Presenter) Notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.styles.Muted.Render(fmt.Sprintf(format, args...)))
}

// Failure writes an error line
func (p *Presenter) Failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.styles.Error.Render("error: "+err.Error()))
}

// RenderHistory writes completed messages with formatting applied
func (p *Presenter) RenderHistory(messages []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range messages {
		io.WriteString(p.out, p.RenderMessage(msg)+"\n")
	}
}

// RenderMessage formats a single completed message
func (p *Presenter) RenderMessage(msg chat.Message) string {
	var b strings.Builder
	switch {
	case msg.IsUser():
		b.WriteString(p.styles.UserLabel.Render(userLabel + ":"))
	default:
		b.WriteString(p.styles.AssistantLabel.Render(assistantLabel + ":"))
	}
	b.WriteString(" ")

	content := msg.Content
	if len(msg.FileUploads) > 0 {
		names := make([]string, 0, len(msg.FileUploads))
		for _, u := range msg.FileUploads {
			names = append(names, u.Name)
		}
		content = strings.TrimSpace(content + "\n" + p.styles.Muted.Render("["+strings.Join(names, ", ")+"]"))
	}

	switch {
	case msg.IsError:
		b.WriteString(p.styles.Error.Render(content))
	default:
		b.WriteString(p.formatter.Format(content))
	}

	if footer := p.footer(msg); footer != "" {
		b.WriteString("\n" + footer)
	}
	return b.String()
}

// footer summarises the side channels of an assistant message
func (p *Presenter) footer(msg chat.Message) string {
	var lines []string

	if msg.IsError {
		lines = append(lines, p.styles.Error.Render("(reply failed)"))
	}
	if len(msg.AgentReasoning) > 0 {
		agents := make([]string, 0, len(msg.AgentReasoning))
		for _, step := range msg.AgentReasoning {
			if step.IsTransition() {
				continue
			}
			name := step.AgentName
			if name == "" {
				name = step.NodeName
			}
			if name != "" {
				agents = append(agents, name)
			}
		}
		if len(agents) > 0 {
			lines = append(lines, p.styles.Agent.Render("agents: "+strings.Join(agents, " -> ")))
		}
	}
	if len(msg.UsedTools) > 0 {
		tools := make([]string, 0, len(msg.UsedTools))
		for _, t := range msg.UsedTools {
			tools = append(tools, t.Tool)
		}
		lines = append(lines, p.styles.Tool.Render("tools: "+strings.Join(tools, ", ")))
	}
	if len(msg.SourceDocuments) > 0 {
		titles := make([]string, 0, len(msg.SourceDocuments))
		for _, d := range msg.SourceDocuments {
			title := d.Title
			if title == "" {
				title = truncate(d.PageContent, 40)
			}
			titles = append(titles, title)
		}
		lines = append(lines, p.styles.Muted.Render("sources: "+strings.Join(titles, "; ")))
	}
	if len(msg.Artifacts) > 0 {
		for _, a := range msg.Artifacts {
			lines = append(lines, p.styles.Muted.Render(fmt.Sprintf("artifact (%s): %s", a.Type, truncate(a.Data, 80))))
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
