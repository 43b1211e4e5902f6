package logging

import (
	"context"
	"log/slog"
)

// multiHandler fans a record out to every attached branch whose own
// minimum level admits it. Folding a per-branch level floor into the
// fan-out itself (rather than composing a separate level-filtering
// decorator in front of each branch) is what lets New build "every
// level to the console and main log, warn+ to the error log" as one
// handler instead of a decorator wrapped around a decorator.
type multiHandler struct {
	branches []branch
}

type branch struct {
	handler  slog.Handler
	minLevel slog.Level
}

// newMultiHandler builds a multiHandler over branches, each gated at
// its own minLevel independent of the others.
func newMultiHandler(branches ...branch) *multiHandler {
	return &multiHandler{branches: branches}
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, b := range h.branches {
		if level >= b.minLevel && b.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle fails fast: the first branch error aborts delivery to the
// rest, so a broken sink is visible rather than silently dropped.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, b := range h.branches {
		if r.Level < b.minLevel || !b.handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := b.handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	branches := make([]branch, len(h.branches))
	for i, b := range h.branches {
		branches[i] = branch{handler: b.handler.WithAttrs(attrs), minLevel: b.minLevel}
	}
	return &multiHandler{branches: branches}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	branches := make([]branch, len(h.branches))
	for i, b := range h.branches {
		branches[i] = branch{handler: b.handler.WithGroup(name), minLevel: b.minLevel}
	}
	return &multiHandler{branches: branches}
}
