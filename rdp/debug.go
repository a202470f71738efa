package rdp

import (
	"context"
	"log/slog"
)

// levelTrace sits below slog.LevelDebug, for the high-volume
// accept/reject tracing tcp's logger reserves a dedicated level for.
const levelTrace = slog.LevelDebug - 2

// logger is embedded in [ControlBlock] to give every connection structured,
// leveled logging without forcing a *slog.Logger field check at every call
// site. Mirrors tcp's logger/debug.go split between trace (routine
// protocol rejects), debug (state changes) and error (real failures) so
// that routine protocol rejects never read as application errors.
type logger struct {
	log *slog.Logger
	id  string // short correlation id, set once by Conn.Allocate
}

func (l logger) enabled(lvl slog.Level) bool {
	return l.log != nil && l.log.Handler().Enabled(context.Background(), lvl)
}

func (l logger) attrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if l.log == nil {
		return
	}
	if l.id != "" {
		attrs = append(attrs, slog.String("conn", l.id))
	}
	l.log.LogAttrs(context.Background(), lvl, msg, attrs...)
}

func (l logger) trace(msg string, attrs ...slog.Attr) { l.attrs(levelTrace, msg, attrs...) }
func (l logger) debug(msg string, attrs ...slog.Attr) { l.attrs(slog.LevelDebug, msg, attrs...) }
func (l logger) logerr(msg string, attrs ...slog.Attr) { l.attrs(slog.LevelError, msg, attrs...) }

func (l logger) traceSeg(msg string, h Header) {
	if !l.enabled(levelTrace) {
		return
	}
	l.trace(msg,
		slog.String("flags", h.Flags().String()),
		slog.Uint64("seq", uint64(h.SeqNr())),
		slog.Uint64("ack", uint64(h.AckNr())),
	)
}
