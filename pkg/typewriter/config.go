package typewriter

import (
	"time"

	"github.com/killallgit/flowchat/pkg/config"
)

// Config controls the reveal cadence
type Config struct {
	Enabled bool
	// ChunkSize is the number of runes revealed per tick
	ChunkSize        int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	PunctuationDelay time.Duration
	WhitespaceDelay  time.Duration
	InitialDelay     time.Duration
	// InstantComplete shows the whole text as soon as the source is complete
	InstantComplete bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ChunkSize:        1,
		MinDelay:         10 * time.Millisecond,
		MaxDelay:         30 * time.Millisecond,
		PunctuationDelay: 120 * time.Millisecond,
		WhitespaceDelay:  40 * time.Millisecond,
		InitialDelay:     100 * time.Millisecond,
	}
}

// FromSettings builds a Config from the loaded application settings
func FromSettings(s config.TypewriterConfig) Config {
	return Config{
		Enabled:          s.Enabled,
		ChunkSize:        s.ChunkSize,
		MinDelay:         s.MinDelay,
		MaxDelay:         s.MaxDelay,
		PunctuationDelay: s.PunctuationDelay,
		WhitespaceDelay:  s.WhitespaceDelay,
		InitialDelay:     s.InitialDelay,
		InstantComplete:  s.InstantComplete,
	}.normalized()
}

func (c Config) normalized() Config {
	if c.ChunkSize < 1 {
		c.ChunkSize = 1
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	return c
}
