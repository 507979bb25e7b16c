package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

// ColorHandler пишет логи в текстовом формате и подсвечивает уровень,
// если вывод идет в терминал.
type ColorHandler struct {
	slog.Handler
	out       io.Writer
	mu        *sync.Mutex
	isColored bool
}

func NewColorHandler(out io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	isColored := false
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		isColored = true
	}

	return &ColorHandler{
		Handler:   slog.NewTextHandler(out, opts),
		out:       out,
		mu:        &sync.Mutex{},
		isColored: isColored,
	}
}

func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.isColored {
		return h.Handler.Handle(ctx, r)
	}

	var color string
	switch {
	case r.Level >= slog.LevelError:
		color = colorRed
	case r.Level >= slog.LevelWarn:
		color = colorYellow
	case r.Level < slog.LevelInfo:
		color = colorBlue
	}
	if color == "" {
		return h.Handler.Handle(ctx, r)
	}

	// цвет и запись должны попасть в вывод одним куском
	h.mu.Lock()
	defer h.mu.Unlock()
	io.WriteString(h.out, color)
	err := h.Handler.Handle(ctx, r)
	io.WriteString(h.out, colorReset)
	return err
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorHandler{Handler: h.Handler.WithAttrs(attrs), out: h.out, mu: h.mu, isColored: h.isColored}
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	return &ColorHandler{Handler: h.Handler.WithGroup(name), out: h.out, mu: h.mu, isColored: h.isColored}
}
