package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// ColorTextHandler wraps slog.TextHandler, prefixing each message with a
// fixed-width level tag colored for interactive runs. Colors are dropped when
// the destination is not a terminal or NO_COLOR is set, so redirected CI
// output stays plain.
type ColorTextHandler struct {
	*slog.TextHandler
	color bool
}

// NewColorTextHandler creates a handler writing to w. When showTime is false
// the time attribute is stripped, which keeps harness output stable across
// runs.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	var local slog.HandlerOptions
	if opts != nil {
		local = *opts
	}
	if !showTime {
		inner := local.ReplaceAttr
		local.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if inner != nil {
				return inner(groups, a)
			}
			return a
		}
	}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, &local),
		color:       useColor(w),
	}
}

func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	tag := levelTag(r.Level)
	if h.color {
		tag = levelColor(r.Level) + tag + "\033[0m"
	}
	r.Message = tag + " " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERRO"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBG"
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan
	}
}
