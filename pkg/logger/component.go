package logger

import (
	"fmt"
	"strings"
)

// ComponentLogger tags every line with a component name and formats
// trailing key/value pairs.
type ComponentLogger struct {
	component string
	fields    []any
}

// WithComponent returns a logger that writes through the default logger
func WithComponent(name string) *ComponentLogger {
	return &ComponentLogger{component: name}
}

// With returns a copy carrying extra key/value pairs on every line
func (c *ComponentLogger) With(keyvals ...any) *ComponentLogger {
	fields := make([]any, 0, len(c.fields)+len(keyvals))
	fields = append(fields, c.fields...)
	fields = append(fields, keyvals...)
	return &ComponentLogger{component: c.component, fields: fields}
}

func (c *ComponentLogger) emit(level LogLevel, msg string, keyvals []any) {
	l := current()
	if l == nil || !l.shouldLog(level) {
		return
	}
	l.log(level, c.format(msg, keyvals))
}

func (c *ComponentLogger) format(msg string, keyvals []any) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(c.component)
	b.WriteString("] ")
	b.WriteString(msg)

	all := append(append([]any{}, c.fields...), keyvals...)
	for i := 0; i < len(all); i += 2 {
		b.WriteString(" ")
		if i+1 < len(all) {
			fmt.Fprintf(&b, "%v=%v", all[i], all[i+1])
		} else {
			fmt.Fprintf(&b, "%v=<missing>", all[i])
		}
	}
	return b.String()
}

func (c *ComponentLogger) Debug(msg string, keyvals ...any) { c.emit(LevelDebug, msg, keyvals) }
func (c *ComponentLogger) Info(msg string, keyvals ...any)  { c.emit(LevelInfo, msg, keyvals) }
func (c *ComponentLogger) Warn(msg string, keyvals ...any)  { c.emit(LevelWarn, msg, keyvals) }
func (c *ComponentLogger) Error(msg string, keyvals ...any) { c.emit(LevelError, msg, keyvals) }
