package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// WriterConsole writes human readable lines to stderr
	WriterConsole = "console"
	// WriterFile writes JSON lines to a rotating log file
	WriterFile = "file"

	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
)

// Options configures the process logger
type Options struct {
	Level      string   `yaml:"level" json:"level"`
	Writer     []string `yaml:"writer" json:"writer"`
	File       string   `yaml:"file" json:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMb" json:"maxSizeMb"`
	MaxBackups int      `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int      `yaml:"maxAgeDays" json:"maxAgeDays"`
}

// DefaultOptions logs info and above to the console only
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Writer: []string{WriterConsole},
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger for the configured writers. The returned closer releases
// the log file, if any.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	return build(opts, os.Stderr)
}

func build(opts Options, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	writers := opts.Writer
	if len(writers) == 0 {
		writers = []string{WriterConsole}
	}

	var outputs []io.Writer
	var closer io.Closer = nopCloser{}

	for _, name := range writers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case WriterConsole:
			outputs = append(outputs, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"})
		case WriterFile:
			if opts.File == "" {
				return zerolog.Nop(), nil, fmt.Errorf("log writer %q requires a file path", WriterFile)
			}
			if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
				return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			rotating := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    orDefault(opts.MaxSizeMB, defaultMaxSizeMB),
				MaxBackups: orDefault(opts.MaxBackups, defaultMaxBackups),
				MaxAge:     orDefault(opts.MaxAgeDays, defaultMaxAgeDays),
			}
			outputs = append(outputs, rotating)
			closer = rotating
		default:
			return zerolog.Nop(), nil, fmt.Errorf("unknown log writer %q", name)
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}

// ParseLevel maps a config level name to a zerolog level. Empty means info.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
