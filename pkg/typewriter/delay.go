package typewriter

import (
	"strings"
	"time"
	"unicode"
)

const punctuation = ".!?,;:"

// NextDelay returns the pause before revealing the rune after prev.
// jitter in [0, 1] picks a point in the [MinDelay, MaxDelay] range.
func NextDelay(prev rune, cfg Config, jitter float64) time.Duration {
	switch {
	case strings.ContainsRune(punctuation, prev):
		return cfg.PunctuationDelay
	case unicode.IsSpace(prev):
		return cfg.WhitespaceDelay
	}

	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	spread := cfg.MaxDelay - cfg.MinDelay
	if spread <= 0 {
		return cfg.MinDelay
	}
	return cfg.MinDelay + time.Duration(jitter*float64(spread))
}
