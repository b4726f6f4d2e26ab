package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the operational log.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days

	// DefaultFileName is the operational log written inside FileConfig.Dir.
	DefaultFileName = "supervisor.log"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured logger printed to the terminal.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes the rotated operational log file.
// Path overrides Dir/DefaultFileName. Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config bundles the terminal logger and the rotated file sink.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// FilePath returns the resolved operational log path or "" when file logging is off.
func (c Config) FilePath() string {
	if c.File.Path != "" {
		return c.File.Path
	}
	if c.File.Dir != "" {
		return filepath.Join(c.File.Dir, DefaultFileName)
	}
	return ""
}

// FileWriter returns a lumberjack writer for the operational log, or nil
// when neither Dir nor Path is set.
func (c Config) FileWriter() io.WriteCloser {
	p := c.FilePath()
	if p == "" {
		return nil
	}
	_ = os.MkdirAll(filepath.Dir(p), 0o750)
	return &lj.Logger{
		Filename:   p,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewSlogger builds a logger writing to stderr and, when configured, to the
// rotated operational log. The file sink always uses plain text without color.
func (c Config) NewSlogger() *slog.Logger {
	return c.NewSloggerTo(os.Stderr)
}

// NewSloggerTo is NewSlogger with an explicit terminal writer.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.Level.slogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var term slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		term = slog.NewJSONHandler(w, opts)
	case c.Slog.Color:
		term = NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	default:
		term = slog.NewTextHandler(w, opts)
	}

	fw := c.FileWriter()
	if fw == nil {
		return slog.New(term)
	}
	fileOpts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	return slog.New(fanout{term, slog.NewTextHandler(fw, fileOpts)})
}

// Discard returns a logger that drops everything. Handy for tests and library defaults.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func (l Level) slogLevel() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
