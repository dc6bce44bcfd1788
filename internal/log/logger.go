package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/graphscope/pegasus/internal/config"
)

// logrusLogger adapts a *logrus.Entry to Logger, the same shape the
// teacher's logrusAdapter wraps around its own *logrus.Entry.
type logrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger(cfg config.LogConfig) (Logger, error) {
	writer, err := buildWriter(cfg.Outputs)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(writer)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	l.SetLevel(level)

	return &logrusLogger{entry: logrus.NewEntry(l)}, nil
}

// buildWriter fans output across every configured sink (spec.md's ambient
// logging concern), console or rotated file via lumberjack, defaulting to
// stdout when none are configured.
func buildWriter(outputs []config.OutputConfig) (io.Writer, error) {
	var writers []io.Writer
	for i, output := range outputs {
		switch strings.ToLower(output.Type) {
		case "console", "stdout":
			writers = append(writers, os.Stdout)
		case "file":
			if output.Path == "" {
				return nil, fmt.Errorf("output[%d]: file output requires 'path'", i)
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   output.Path,
				MaxSize:    output.MaxSizeMB,
				MaxBackups: output.MaxBackups,
				MaxAge:     output.MaxAgeDays,
				Compress:   output.Compress,
			})
		default:
			return nil, fmt.Errorf("output[%d]: unsupported output type: %s", i, output.Type)
		}
	}
	if len(writers) == 0 {
		return os.Stdout, nil
	}
	return io.MultiWriter(writers...), nil
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusLogger) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusLogger) WithField(field string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(field, value)}
}
func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields)}
}
func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
