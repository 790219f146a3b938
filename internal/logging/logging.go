// Package logging builds the slog.Logger used by the pubsub-tail command.
//
// Three formats are supported:
//
//	text     slog key=value lines
//	json     slog JSON lines
//	console  colorized human-readable lines rendered by zerolog's ConsoleWriter
//
// The console format still logs through slog; the JSON records are
// re-rendered by zerolog.ConsoleWriter on their way to the writer.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
)

// Format names accepted by New.
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures New.
type Options struct {
	Level  slog.Level
	Format string

	// NoColor disables ANSI colors in the console format.
	NoColor bool

	// Attrs are attached to every record.
	Attrs []slog.Attr
}

// New returns a logger writing to w. Unknown formats fall back to text.
func New(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: opts.Level}

	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	case FormatConsole:
		hopts.ReplaceAttr = consoleAttr
		h = slog.NewJSONHandler(consoleWriter(w, opts.NoColor), hopts)
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	if len(opts.Attrs) > 0 {
		h = h.WithAttrs(opts.Attrs)
	}
	return slog.New(h)
}

func consoleWriter(w io.Writer, noColor bool) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	}
}

// consoleAttr renames the slog message key to the one ConsoleWriter reads.
func consoleAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.MessageKey {
		a.Key = zerolog.MessageFieldName
	}
	return a
}
