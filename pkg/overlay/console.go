package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// ErrNotTerminal is returned when the console is started without a TTY.
var ErrNotTerminal = errors.New("overlay: console requires an interactive terminal")

// Console presents overlays in the terminal. It is a Host, AudioPlayer
// and Effects. A single reader goroutine owns the readline instance; Show
// consumes its lines so a cancelled Show never leaves a second reader
// behind.
type Console struct {
	rl     *readline.Instance
	out    io.Writer
	lines  chan string
	quit   chan struct{}
	done   chan struct{}
	render *glamour.TermRenderer

	mu     sync.Mutex
	closeC map[schema.ItemType]chan struct{}
	audio  chan struct{}
}

// NewConsole opens a readline console on stdin/stdout.
func NewConsole() (*Console, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil, ErrNotTerminal
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "› ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	c := &Console{
		rl:     rl,
		out:    rl.Stdout(),
		lines:  make(chan string),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		closeC: map[schema.ItemType]chan struct{}{},
		audio:  make(chan struct{}),
	}
	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80)); err == nil {
		c.render = r
	}
	go c.readLoop()
	return c, nil
}

func (c *Console) readLoop() {
	defer close(c.done)
	for {
		line, err := c.rl.Readline()
		if err != nil {
			return
		}
		select {
		case c.lines <- strings.TrimSpace(line):
		case <-c.quit:
			return
		}
	}
}

// Shutdown stops the reader and releases the terminal.
func (c *Console) Shutdown() error {
	close(c.quit)
	return c.rl.Close()
}

// Printf writes to the console above the prompt.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) markdown(md string) string {
	if c.render == nil || strings.TrimSpace(md) == "" {
		return md
	}
	out, err := c.render.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func (c *Console) closer(kind schema.ItemType) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.closeC[kind]
	if !ok {
		ch = make(chan struct{})
		c.closeC[kind] = ch
	}
	return ch
}

// readLine waits for the next line, a Close of kind, or ctx.
func (c *Console) readLine(ctx context.Context, kind schema.ItemType, prompt string) (string, bool, error) {
	c.rl.SetPrompt(prompt)
	c.rl.Refresh()
	closed := c.closer(kind)
	select {
	case line := <-c.lines:
		return line, true, nil
	case <-closed:
		return "", false, nil
	case <-c.done:
		return "", false, io.EOF
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Show renders the item and waits for the player.
func (c *Console) Show(ctx context.Context, kind schema.ItemType, req Request) (*Evidence, error) {
	it := req.Item
	c.Printf("\n── %s ──\n", it.Label())

	switch kind {
	case schema.ItemText:
		c.Printf("%s\n", c.markdown(it.Text.Body))
	case schema.ItemDocument:
		if it.Document.Body != "" {
			c.Printf("%s\n", c.markdown(it.Document.Body))
		}
		if req.MediaURL != "" {
			c.Printf("document: %s\n", req.MediaURL)
		}
	case schema.ItemVideo:
		c.Printf("▶ video: %s\n", req.MediaURL)
	case schema.ItemChat:
		return c.chat(ctx, req)
	case schema.ItemAction, schema.ItemAR:
		return c.capture(ctx, kind, req)
	}

	_, _, err := c.readLine(ctx, kind, "press Enter to close › ")
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Console) chat(ctx context.Context, req Request) (*Evidence, error) {
	ch := req.Item.Chat
	if ch.FirstMessage != "" {
		c.Printf("%s\n", c.markdown(ch.FirstMessage))
	}
	for _, img := range ch.Images {
		c.Printf("🖼  %s\n", img)
	}
	if ch.Goal != "" {
		c.Printf("goal: %s\n", ch.Goal)
	}
	var transcript []string
	for {
		line, ok, err := c.readLine(ctx, schema.ItemChat, "you (/done to leave) › ")
		if err != nil {
			return nil, err
		}
		if !ok || line == "/done" {
			break
		}
		if line != "" {
			transcript = append(transcript, line)
		}
	}
	if len(transcript) == 0 {
		return nil, nil
	}
	return &Evidence{Data: map[string]any{"transcript": transcript}}, nil
}

// capture asks for evidence: free text, @path attachments, or an empty
// line to cancel.
func (c *Console) capture(ctx context.Context, kind schema.ItemType, req Request) (*Evidence, error) {
	if kind == schema.ItemAction && req.Item.Action.Prompt != "" {
		c.Printf("%s\n", c.markdown(req.Item.Action.Prompt))
	}
	if kind == schema.ItemAR && req.Item.AR.Task != "" {
		c.Printf("AR task: %s\n", req.Item.AR.Task)
	}
	line, ok, err := c.readLine(ctx, kind, "evidence (text or @file, empty cancels) › ")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if line == "" {
		return &Evidence{Cancelled: true}, nil
	}

	ev := &Evidence{}
	var words []string
	for _, f := range strings.Fields(line) {
		if path, isFile := strings.CutPrefix(f, "@"); isFile {
			a, err := Attach(path)
			if err != nil {
				c.Printf("✗ %v\n", err)
				continue
			}
			ev.Attachments = append(ev.Attachments, a)
			continue
		}
		words = append(words, f)
	}
	ev.Text = strings.Join(words, " ")
	return ev, nil
}

// Close wakes any Show waiting on kind.
func (c *Console) Close(kind schema.ItemType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.closeC[kind]; ok {
		close(ch)
		delete(c.closeC, kind)
	}
}

// Notify prints a message.
func (c *Console) Notify(message string) {
	c.Printf("! %s\n", message)
}

// Play announces the track and waits for the player to confirm it ended.
func (c *Console) Play(ctx context.Context, req AudioRequest) error {
	c.Printf("♪ %s %s\n", req.Kind, req.URL)
	if req.Text != "" {
		c.Printf("%s\n", c.markdown(req.Text))
	}
	c.mu.Lock()
	stop := c.audio
	c.mu.Unlock()

	c.rl.SetPrompt("press Enter when playback ends › ")
	c.rl.Refresh()
	select {
	case <-c.lines:
		return nil
	case <-stop:
		return nil
	case <-c.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlayBackground announces a background track.
func (c *Console) PlayBackground(_ context.Context, req AudioRequest) error {
	c.Printf("♫ background %s\n", req.URL)
	return nil
}

// Stop ends a blocking Play.
func (c *Console) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.audio)
	c.audio = make(chan struct{})
}

// Pulse prints the effect.
func (c *Console) Pulse(_ context.Context, req EffectRequest) error {
	c.Printf("✦ %s pulse at %.5f, %.5f\n", req.Kind, req.At.Lat, req.At.Lng)
	return nil
}
