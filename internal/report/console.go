package report

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"
)

// ConsoleSink prints colored status lines for an attached terminal.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w, typically os.Stderr.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func printerFor(l Level) pterm.PrefixPrinter {
	switch l {
	case LevelSuccess:
		return pterm.Success
	case LevelWarn:
		return pterm.Warning
	case LevelError:
		return pterm.Error
	default:
		return pterm.Info
	}
}

func (s *ConsoleSink) Report(_ context.Context, e Entry) {
	p := printerFor(e.Level)
	line := p.Sprintln(e.Line())

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, line)
}
