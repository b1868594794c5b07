package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Fields is re-exported so callers don't need to import logrus for structured fields.
type Fields = logrus.Fields

// Options controls where log output goes.
type Options struct {
	Level   string // debug, info, warn, error
	LogDir  string // empty disables the rotating file writer
	NoColor bool
}

func base() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&formatter.Formatter{
			TimestampFormat: "15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
			},
		})
	})
	return logger
}

// Setup configures the shared logger. It is safe to call more than once;
// the last call wins.
func Setup(opts Options) error {
	l := base()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	l.SetLevel(level)
	l.SetReportCaller(level >= logrus.DebugLevel)

	if f, ok := l.Formatter.(*formatter.Formatter); ok {
		f.NoColors = opts.NoColor
	}

	writers := []io.Writer{os.Stderr}
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.LogDir, fmt.Sprintf("centerstage-%s.log", time.Now().Format("2006-01-02"))),
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

// SetOutput redirects all log output. Tests use it with io.Discard.
func SetOutput(w io.Writer) {
	base().SetOutput(w)
}

// Logger returns the shared logger.
func Logger() *logrus.Logger {
	return base()
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return base().WithField("component", component)
}
