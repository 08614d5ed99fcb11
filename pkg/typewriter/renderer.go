package typewriter

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// State of the reveal
type State int

const (
	StateIdle State = iota
	StateDelaying
	StateRevealing
	StateDone
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDelaying:
		return "delaying"
	case StateRevealing:
		return "revealing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Option configures a Renderer
type Option func(*Renderer)

// WithClock replaces the system clock, mostly for tests
func WithClock(c Clock) Option {
	return func(r *Renderer) { r.clock = c }
}

// WithOnChange registers a callback receiving the displayed prefix after
// every change. It is called without the renderer lock held.
func WithOnChange(f func(displayed string)) Option {
	return func(r *Renderer) { r.onChange = f }
}

// WithJitter replaces the random source used between MinDelay and MaxDelay
func WithJitter(f func() float64) Option {
	return func(r *Renderer) { r.jitter = f }
}

// Renderer reveals a possibly growing text over time. The cursor is a
// byte offset into the source that always sits on a rune boundary and
// never moves backwards for the same logical message.
type Renderer struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	jitter   func() float64
	onChange func(string)

	source   string
	cursor   int
	complete bool
	state    State
	paused   bool
	closed   bool

	timer Timer
	// generation is bumped whenever the pending timer is replaced or
	// stopped so a callback that already fired cannot act
	generation uint64
}

func NewRenderer(cfg Config, opts ...Option) *Renderer {
	r := &Renderer{
		cfg:    cfg.normalized(),
		clock:  SystemClock{},
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Update supplies the latest full text. Empty text resets the renderer.
// Text that still starts with what is displayed keeps the cursor; any
// other text is treated as a new message.
func (r *Renderer) Update(text string, complete bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	before := r.displayedLocked()

	if text == "" {
		r.stopLocked()
		r.source = ""
		r.cursor = 0
		r.complete = false
		r.state = StateIdle
		r.mu.Unlock()
		r.notify(before, "")
		return
	}

	if !strings.HasPrefix(text, before) {
		r.stopLocked()
		r.cursor = 0
		r.state = StateIdle
	}
	r.source = text
	r.complete = complete

	switch {
	case !r.cfg.Enabled || (complete && r.cfg.InstantComplete):
		r.stopLocked()
		r.cursor = len(text)
		r.state = StateDone
	case r.cursor >= len(text):
		r.state = StateDone
	case r.paused:
		// Resume picks up from here
		if r.state == StateDone {
			r.state = StateRevealing
		}
	case r.timer == nil:
		r.scheduleLocked()
	}

	after := r.displayedLocked()
	r.mu.Unlock()
	r.notify(before, after)
}

// Complete shows the whole source immediately and marks it complete, so
// Finished reports true until the next Update. Safe to call repeatedly.
func (r *Renderer) Complete() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	before := r.displayedLocked()
	r.stopLocked()
	r.complete = true
	r.cursor = len(r.source)
	r.state = StateDone
	r.paused = false
	after := r.displayedLocked()
	r.mu.Unlock()
	r.notify(before, after)
}

// Pause suspends revealing without moving the cursor
func (r *Renderer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.paused {
		return
	}
	r.paused = true
	r.stopLocked()
}

// Resume continues a paused reveal
func (r *Renderer) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.paused {
		return
	}
	r.paused = false
	if r.cursor < len(r.source) {
		r.scheduleLocked()
	}
}

// Close stops any pending tick. The renderer ignores all later calls.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.closed = true
}

func (r *Renderer) Displayed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayedLocked()
}

func (r *Renderer) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Renderer) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Finished reports whether the complete source is fully displayed
func (r *Renderer) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete && r.cursor == len(r.source)
}

func (r *Renderer) displayedLocked() string {
	return r.source[:r.cursor]
}

// scheduleLocked arms the next tick. A reveal that has not shown anything
// yet waits for the initial delay first.
func (r *Renderer) scheduleLocked() {
	if r.cursor == 0 {
		r.state = StateDelaying
		r.armLocked(r.cfg.InitialDelay)
		return
	}
	prev, _ := utf8.DecodeLastRuneInString(r.source[:r.cursor])
	r.state = StateRevealing
	r.armLocked(NextDelay(prev, r.cfg, r.jitter()))
}

func (r *Renderer) armLocked(d time.Duration) {
	r.generation++
	gen := r.generation
	r.timer = r.clock.AfterFunc(d, func() { r.tick(gen) })
}

func (r *Renderer) stopLocked() {
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Renderer) tick(gen uint64) {
	r.mu.Lock()
	if r.closed || r.paused || gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.timer = nil

	before := r.displayedLocked()
	for i := 0; i < r.cfg.ChunkSize && r.cursor < len(r.source); i++ {
		_, size := utf8.DecodeRuneInString(r.source[r.cursor:])
		r.cursor += size
	}

	if r.cursor >= len(r.source) {
		r.state = StateDone
	} else {
		r.scheduleLocked()
	}

	after := r.displayedLocked()
	r.mu.Unlock()
	r.notify(before, after)
}

func (r *Renderer) notify(before, after string) {
	if r.onChange != nil && before != after {
		r.onChange(after)
	}
}
