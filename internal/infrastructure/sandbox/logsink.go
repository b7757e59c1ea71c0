package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guildhook/guildhook/internal/domain/execution"
)

// Log sink limits.
const (
	DefaultMaxLogLines  = 200
	MaxLogMessageLength = 2000
)

// Scrubber removes secrets from guest output.
type Scrubber interface {
	ScrubString(string) string
}

// logRecord is the ext_core.log request.
type logRecord struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// logSink captures guest log lines for the run result and mirrors them to the host log.
type logSink struct {
	mu       sync.Mutex
	entries  []execution.LogEntry
	dropped  int
	maxLines int
	scrub    Scrubber
	logger   *slog.Logger
	now      func() time.Time
}

func newLogSink(maxLines int, scrub Scrubber, logger *slog.Logger) *logSink {
	if maxLines <= 0 {
		maxLines = DefaultMaxLogLines
	}
	return &logSink{maxLines: maxLines, scrub: scrub, logger: logger, now: time.Now}
}

// write records one request. Payloads that are not a log record are kept verbatim at info level.
func (l *logSink) write(ctx context.Context, payload []byte) {
	var rec logRecord
	if err := json.Unmarshal(payload, &rec); err != nil || rec.Message == "" {
		rec = logRecord{Level: "info", Message: string(payload)}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(rec.Level)); err != nil {
		level = slog.LevelInfo
	}

	msg := rec.Message
	if len(msg) > MaxLogMessageLength {
		msg = msg[:MaxLogMessageLength] + "…"
	}
	if l.scrub != nil {
		msg = l.scrub.ScrubString(msg)
	}

	l.mu.Lock()
	if len(l.entries) >= l.maxLines {
		l.dropped++
		l.mu.Unlock()
		return
	}
	l.entries = append(l.entries, execution.LogEntry{
		At:      l.now(),
		Level:   strings.ToLower(level.String()),
		Message: msg,
	})
	l.mu.Unlock()

	l.logger.Log(ctx, slog.LevelDebug, msg, "guest_level", level.String())
}

// snapshot returns the captured lines, with a trailer when lines were dropped.
func (l *logSink) snapshot() []execution.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.LogEntry, len(l.entries), len(l.entries)+1)
	copy(out, l.entries)
	if l.dropped > 0 {
		out = append(out, execution.LogEntry{
			At:      l.now(),
			Level:   "warn",
			Message: "log limit reached; " + strconv.Itoa(l.dropped) + " lines dropped",
		})
	}
	return out
}
