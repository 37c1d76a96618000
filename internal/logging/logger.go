// Package logging provides structured logging for the CLI and the session core.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/events"
)

// Logger wraps zerolog. When an event bus is attached, warnings and errors are
// mirrored onto it as LogEvents so a status view can show them.
type Logger struct {
	zlog     zerolog.Logger
	eventBus *events.EventBus
	output   io.Writer
	file     io.Writer // plain JSON lines, kept across SetOutput
}

func newConsole(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
}

// NewLogger creates a console logger writing to w. Progress bars own stdout
// while transfers run, so the CLI passes os.Stderr.
func NewLogger(w io.Writer, eventBus *events.EventBus) *Logger {
	output := newConsole(w)
	return &Logger{
		zlog:     zerolog.New(output).With().Timestamp().Logger(),
		eventBus: eventBus,
		output:   output,
	}
}

// NewFileWriter returns a rotating log file at path, creating its directory.
func NewFileWriter(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    constants.LogFileMaxSizeMB,
		MaxBackups: constants.LogFileMaxBackups,
		MaxAge:     constants.LogFileMaxAgeDays,
		Compress:   true,
	}, nil
}

// NewTeeLogger writes console lines to w and JSON lines to file.
func NewTeeLogger(w, file io.Writer, eventBus *events.EventBus) *Logger {
	l := &Logger{eventBus: eventBus, file: file}
	l.SetOutput(w)
	return l
}

// NewDefaultCLILogger creates a default CLI logger on stderr.
func NewDefaultCLILogger() *Logger {
	return NewLogger(os.Stderr, nil)
}

// NewNop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func NewNop() *Logger {
	return &Logger{zlog: zerolog.Nop(), output: io.Discard}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Component returns a child Logger tagged with a component field, sharing the
// parent's output and event bus.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog:     l.zlog.With().Str("component", name).Logger(),
		eventBus: l.eventBus,
		output:   l.output,
		file:     l.file,
	}
}

// SetOutput changes the output writer for the logger.
// Used to route log lines through an active progress bar container.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = newConsole(w)
	sink := l.output
	if l.file != nil {
		sink = zerolog.MultiLevelWriter(l.output, l.file)
	}
	l.zlog = zerolog.New(sink).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warnf logs a warning message and mirrors it to the event bus.
func (l *Logger) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zlog.Warn().Msg(msg)
	l.mirror(events.WarnLevel, msg, nil)
}

// Errorf logs an error message and mirrors it to the event bus.
func (l *Logger) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zlog.Error().Msg(msg)
	l.mirror(events.ErrorLevel, msg, nil)
}

func (l *Logger) mirror(level events.LogLevel, msg string, err error) {
	if l.eventBus != nil {
		l.eventBus.PublishLog(level, msg, err)
	}
}

// ParseLevel maps a configuration level name to a zerolog level.
// Unknown names fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
