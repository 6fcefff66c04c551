package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"intradayBot/internal/ports"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a string level to LogLevel. Unknown names map to Info.
func ParseLevel(levelStr string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(levelStr))
	if name == "WARNING" {
		return LevelWarn
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i)
		}
	}
	return LevelInfo
}

// StdLogger writes one line per entry through the standard log package:
//
//	[LEVEL] message | error: err | run=... ticker=... key=value
//
// Fields attached to the context with ports.WithLogFields come first,
// followed by the call's own fields. Keys in each group are sorted.
type StdLogger struct {
	out   *log.Logger
	level LogLevel
}

// NewStdLogger creates a logger writing to os.Stderr.
func NewStdLogger(level LogLevel) *StdLogger {
	return NewStdLoggerWithWriter(os.Stderr, level)
}

// NewStdLoggerWithWriter creates a logger writing to w.
func NewStdLoggerWithWriter(w io.Writer, level LogLevel) *StdLogger {
	return &StdLogger{
		out:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level: level,
	}
}

// Enabled reports whether entries at level are written.
func (l *StdLogger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *StdLogger) write(ctx context.Context, level LogLevel, err error, msg string, fields []map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", level, msg)
	if err != nil {
		fmt.Fprintf(&sb, " | error: %v", err)
	}

	scoped := ports.LogFields(ctx)
	call := mergeFields(fields)
	if len(scoped)+len(call) > 0 {
		sb.WriteString(" |")
		for _, k := range sortedKeys(scoped) {
			if _, shadowed := call[k]; shadowed {
				continue
			}
			fmt.Fprintf(&sb, " %s=%v", k, scoped[k])
		}
		for _, k := range sortedKeys(call) {
			fmt.Fprintf(&sb, " %s=%v", k, call[k])
		}
	}

	l.out.Println(sb.String())
}

// mergeFields flattens the variadic field maps; later maps win on conflict.
func mergeFields(fields []map[string]interface{}) map[string]interface{} {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	return merged
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Debug logs a message at Debug level.
func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, LevelDebug, nil, msg, fields)
}

// Info logs a message at Info level.
func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, LevelInfo, nil, msg, fields)
}

// Warn logs a message at Warning level.
func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, LevelWarn, nil, msg, fields)
}

// Error logs an error message at Error level.
func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.write(ctx, LevelError, err, msg, fields)
}
