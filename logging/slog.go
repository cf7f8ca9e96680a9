package logging

import (
	"context"
	"log/slog"
	"os"
	"sort"
)

// SlogLogger adapts a *slog.Logger to Logger, for hosts that already
// configure log/slog.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogLogger wraps logger. A nil logger falls back to slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	lv := &slog.LevelVar{}
	lv.Set(slog.LevelDebug)
	return &SlogLogger{logger: logger, level: lv}
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func flatten(fields []Fields) []any {
	merged := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, slog.Any(k, merged[k]))
	}
	return args
}

func (s *SlogLogger) emit(level slog.Level, msg string, fields []Fields) {
	if level < s.level.Level() {
		return
	}
	s.logger.Log(context.Background(), level, msg, flatten(fields)...)
}

func (s *SlogLogger) Debug(msg string, fields ...Fields) {
	s.emit(slog.LevelDebug, msg, fields)
}

func (s *SlogLogger) Info(msg string, fields ...Fields) {
	s.emit(slog.LevelInfo, msg, fields)
}

func (s *SlogLogger) Warn(msg string, fields ...Fields) {
	s.emit(slog.LevelWarn, msg, fields)
}

func (s *SlogLogger) Error(err error, msg string, fields ...Fields) {
	s.emit(slog.LevelError, msg, append(fields, Fields{"error": err}))
}

// Fatal logs at error level and exits.
func (s *SlogLogger) Fatal(err error, msg string, fields ...Fields) {
	s.emit(slog.LevelError, msg, append(fields, Fields{"error": err, "fatal": true}))
	os.Exit(1)
}

func (s *SlogLogger) WithFields(fields Fields) Logger {
	return &SlogLogger{logger: s.logger.With(flatten([]Fields{fields})...), level: s.level}
}

func (s *SlogLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := FieldsFromContext(ctx); ok {
		return s.WithFields(fields)
	}
	return s
}

func (s *SlogLogger) SetLevel(level Level) {
	s.level.Set(toSlogLevel(level))
}
