package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const fileName = "mailsend.log"

// Logger wraps logrus with an optional rotating file sink.
type Logger struct {
	*logrus.Logger
	file *lumberjack.Logger
}

// New returns a logger at the given level. When dir is set, entries go to a
// rotated log file in dir; otherwise they go to console.
func New(dir, level string, console io.Writer) (*Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	logger := &Logger{Logger: l}
	if dir == "" {
		l.SetOutput(console)
		return logger, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %w", err)
	}
	logger.file = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	l.SetOutput(logger.file)
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

// WithRequest tags entries with a request id.
func (l *Logger) WithRequest(requestID string) *logrus.Entry {
	return l.WithField("request_id", requestID)
}

func (l *Logger) Close() {
	if l.file == nil {
		return
	}
	_ = l.file.Close()
}
