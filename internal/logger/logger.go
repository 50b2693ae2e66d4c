package logger

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options controls where and how log lines are written
type Options struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"` // text or json
}

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	closer io.Closer
}

// New creates a new logger writing text to stdout at info level
func New() *Logger {
	return NewWriter(os.Stdout)
}

// NewWriter creates a new logger that writes to the provided writer
func NewWriter(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{Logger: l}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWriter(io.Discard)
}

// Configure builds a logger from options. A non-empty File is opened for append.
func Configure(opts Options) (*Logger, error) {
	out := io.Writer(os.Stdout)
	var closer io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", opts.File)
		}
		out = f
		closer = f
	}

	l := NewWriter(out)
	l.closer = closer

	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			l.Close()
			return nil, errors.Wrap(err, "parse log level")
		}
		l.SetLevel(lvl)
	}

	switch strings.ToLower(opts.Format) {
	case "", "text":
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.Close()
		return nil, errors.Errorf("unknown log format %q", opts.Format)
	}
	return l, nil
}

// Component returns an entry tagged with the component name
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}
