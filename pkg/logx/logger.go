package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// source yields the zerolog logger records are written to. Service swaps its
// logger on Apply, so loggers derived from it follow reloads.
type source interface {
	snapshot() zerolog.Logger
}

type fixed struct{ zl zerolog.Logger }

func (f fixed) snapshot() zerolog.Logger { return f.zl }

// Logger is a structured logger passed by value. The zero value drops
// everything.
type Logger struct {
	src    source
	fields []Field
}

func Nop() Logger { return Logger{src: fixed{zl: zerolog.Nop()}} }

// NewWriter logs JSON records at level and above to w.
func NewWriter(w io.Writer, level string) Logger {
	setGlobals()
	zl := zerolog.New(w).Level(parseLevel(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{src: fixed{zl: zl}}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) base() zerolog.Logger {
	if l.src == nil {
		return zerolog.Nop()
	}
	return l.src.snapshot()
}

func (l Logger) Enabled(level Level) bool {
	zl := l.base()
	return level >= zl.GetLevel()
}

// With returns a logger that adds fields to every record.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append([]Field(nil), l.fields...), fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) emit(level Level, msg string, fields []Field) {
	zl := l.base()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// 0 callerOf, 1 emit, 2 Info/Warn/..., 3 call site.
	if c := callerOf(3); c != "" {
		e.Str(zerolog.CallerFieldName, c)
	}
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
