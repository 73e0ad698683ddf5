// Package logging installs the process slog logger and hands out
// component-scoped children.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Options struct {
	Level  slog.Level
	Format string    // "json", anything else is text
	Output io.Writer // nil means os.Stderr
}

// Init installs the default logger and returns it. Durations are rounded to
// microseconds; debug level also records the call site.
func Init(o Options) *slog.Logger {
	out := o.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{
		Level:       o.Level,
		AddSource:   o.Level <= slog.LevelDebug,
		ReplaceAttr: roundDurations,
	}
	var h slog.Handler = slog.NewTextHandler(out, ho)
	if strings.EqualFold(strings.TrimSpace(o.Format), "json") {
		h = slog.NewJSONHandler(out, ho)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

func roundDurations(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		a.Value = slog.DurationValue(a.Value.Duration().Round(time.Microsecond))
	}
	return a
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New tags the current default logger with component. Loggers taken before
// Init keep the previous handler.
func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
